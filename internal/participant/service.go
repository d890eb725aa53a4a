package participant

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/neftit/taskgate/internal/logger"
	"github.com/neftit/taskgate/internal/models"
	"github.com/neftit/taskgate/internal/social"
	"github.com/neftit/taskgate/internal/taskgate"
)

// ConnectResult is the outcome of an OAuth callback merge
type ConnectResult struct {
	// Participant is nil for an X identity that has no record yet
	Participant *models.Participant
	Restored    bool
}

// WalletResult is the outcome of a wallet submission
type WalletResult struct {
	Participant  *models.Participant
	ReferralCode string
	Credited     bool
}

// ReferralInfo is the referral view of a participant
type ReferralInfo struct {
	ReferralCode         *string `json:"referralCode"`
	ReferralCount        int     `json:"referralCount"`
	HasCompletedAllTasks bool    `json:"hasCompletedAllTasks"`
	ReferralLink         *string `json:"referralLink"`
}

// PartnerResult answers whether a wallet or email belongs to a participant
type PartnerResult struct {
	Registered bool       `json:"registered"`
	Timestamp  *time.Time `json:"timestamp"`
}

// Service applies the task-gate rules on top of the repository
type Service struct {
	repo    *Repository
	baseURL string
	now     func() time.Time
}

// NewService creates a service; baseURL is the landing page used in referral links
func NewService(repo *Repository, baseURL string) *Service {
	return &Service{repo: repo, baseURL: baseURL, now: time.Now}
}

// WithClock replaces the clock used for timestamps
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Repository exposes the underlying repository
func (s *Service) Repository() *Repository { return s.repo }

// ConnectDiscord merges a Discord callback. Discord anchors the record, so an
// unknown identity creates one and a known identity restores it.
func (s *Service) ConnectDiscord(ctx context.Context, profile social.Profile) (ConnectResult, error) {
	now := s.now()

	p, err := s.repo.FindByDiscordID(ctx, profile.ID)
	switch {
	case err == nil:
		// a locked record is restored read-only
		if !p.HasWallet() {
			if err := s.repo.RefreshDiscordProfile(ctx, p.ID, profile, now); err != nil {
				return ConnectResult{}, err
			}
		}
		return ConnectResult{Participant: p, Restored: true}, nil

	case errors.Is(err, ErrNotFound):
		created, err := s.repo.CreateFromDiscord(ctx, profile, now)
		if errors.Is(err, ErrDiscordTaken) {
			// lost a race with a concurrent callback for the same identity
			p, err := s.repo.FindByDiscordID(ctx, profile.ID)
			if err != nil {
				return ConnectResult{}, err
			}
			return ConnectResult{Participant: p, Restored: true}, nil
		}
		if err != nil {
			return ConnectResult{}, err
		}
		logger.Info("participant created", zap.String("participant_id", created.ID.String()))
		return ConnectResult{Participant: created}, nil

	default:
		return ConnectResult{}, err
	}
}

// ConnectTwitter merges an X callback. X never creates a record: an unknown
// identity is returned without a participant for the client to link.
func (s *Service) ConnectTwitter(ctx context.Context, profile social.Profile) (ConnectResult, error) {
	p, err := s.repo.FindByTwitterID(ctx, profile.ID)
	if errors.Is(err, ErrNotFound) {
		return ConnectResult{}, nil
	}
	if err != nil {
		return ConnectResult{}, err
	}
	if p.HasWallet() {
		return ConnectResult{}, ErrAccountLocked
	}
	if err := s.repo.RefreshTwitterProfile(ctx, p.ID, profile, s.now()); err != nil {
		return ConnectResult{}, err
	}
	return ConnectResult{Participant: p, Restored: true}, nil
}

// LinkTwitter attaches an X identity to the Discord-anchored record
func (s *Service) LinkTwitter(ctx context.Context, discordID string, profile social.Profile) (*models.Participant, error) {
	holder, err := s.repo.FindByTwitterID(ctx, profile.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if holder != nil && (holder.DiscordProviderID == nil || *holder.DiscordProviderID != discordID) {
		return nil, ErrTwitterTaken
	}

	p, err := s.repo.FindByDiscordID(ctx, discordID)
	if err != nil {
		return nil, err
	}
	if p.HasWallet() {
		return nil, ErrAccountLocked
	}
	if !p.DiscordJoined {
		return nil, ErrDiscordNotJoined
	}
	if holder != nil {
		// already linked to this record
		return p, nil
	}

	if err := s.repo.AttachTwitter(ctx, p.ID, profile, s.now()); err != nil {
		return nil, err
	}
	p.TwitterProviderID = &profile.ID
	p.TwitterUsername = profile.Username
	logger.Info("x account linked", zap.String("participant_id", p.ID.String()))
	return p, nil
}

// VerifyFollow records the follow step. The follow itself is not checked
// against X: clicking through the follow prompt is accepted as proof.
func (s *Service) VerifyFollow(ctx context.Context, discordID string) error {
	p, err := s.repo.FindByDiscordID(ctx, discordID)
	if err != nil {
		return err
	}
	if !p.HasTwitter() {
		return ErrTwitterNotConnected
	}
	return s.repo.MarkTwitterFollowed(ctx, p.ID, s.now())
}

// LinkWallet submits the wallet, locking the record. The address format is
// checked before anything is read or written.
func (s *Service) LinkWallet(ctx context.Context, discordID, wallet string) (WalletResult, error) {
	wallet, err := ValidateWallet(wallet)
	if err != nil {
		return WalletResult{}, err
	}

	if _, err := s.repo.FindByWallet(ctx, wallet); err == nil {
		return WalletResult{}, ErrWalletTaken
	} else if !errors.Is(err, ErrNotFound) {
		return WalletResult{}, err
	}

	p, err := s.repo.FindByDiscordID(ctx, discordID)
	if err != nil {
		return WalletResult{}, err
	}
	if p.HasWallet() {
		return WalletResult{}, ErrAccountLocked
	}
	if !p.HasTwitter() {
		return WalletResult{}, ErrTwitterNotConnected
	}
	if !p.TwitterFollowed {
		return WalletResult{}, ErrTwitterNotFollowed
	}

	code, credited, err := s.repo.AttachWallet(ctx, p, wallet, s.now())
	if err != nil {
		return WalletResult{}, err
	}
	logger.Info("wallet linked",
		zap.String("participant_id", p.ID.String()),
		zap.String("wallet", ChecksumWallet(wallet)),
		zap.Bool("referral_credited", credited))
	return WalletResult{Participant: p, ReferralCode: code, Credited: credited}, nil
}

// Session is the authoritative task view of the record anchored on discordID
func (s *Service) Session(ctx context.Context, discordID string) (taskgate.Session, error) {
	p, err := s.repo.FindByDiscordID(ctx, discordID)
	if err != nil {
		return taskgate.Session{}, err
	}
	return taskgate.Project(p), nil
}

// Status returns the raw record anchored on discordID
func (s *Service) Status(ctx context.Context, discordID string) (*models.Participant, error) {
	return s.repo.FindByDiscordID(ctx, discordID)
}

// ReferralInfo returns the referral view; the code and link only exist once
// every task is completed.
func (s *Service) ReferralInfo(ctx context.Context, discordID string) (ReferralInfo, error) {
	p, err := s.repo.FindByDiscordID(ctx, discordID)
	if err != nil {
		return ReferralInfo{}, err
	}

	info := ReferralInfo{
		ReferralCount:        p.ReferralCompletedCount,
		HasCompletedAllTasks: taskgate.AllCompleted(p),
	}
	if !info.HasCompletedAllTasks {
		return info, nil
	}

	code := ""
	if p.ReferralCode != nil {
		code = *p.ReferralCode
	}
	if code == "" {
		if code, err = s.repo.SetReferralCode(ctx, p); err != nil {
			return ReferralInfo{}, err
		}
	}
	link := ReferralLink(s.baseURL, code)
	info.ReferralCode = &code
	info.ReferralLink = &link
	return info, nil
}

// ApplyReferral records who referred the participant. It can succeed only once.
func (s *Service) ApplyReferral(ctx context.Context, discordID, code string) error {
	code = NormalizeReferralCode(code)
	if code == "" {
		return ErrInvalidReferralCode
	}

	referrer, err := s.repo.FindByReferralCode(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return ErrInvalidReferralCode
	}
	if err != nil {
		return err
	}

	referee, err := s.repo.FindByDiscordID(ctx, discordID)
	if err != nil {
		return err
	}
	if referee.ReferredBy != nil && *referee.ReferredBy != "" {
		return ErrAlreadyReferred
	}
	if referrer.ID == referee.ID {
		return ErrSelfReferral
	}

	if err := s.repo.ApplyReferral(ctx, referee, referrer, code); err != nil {
		return err
	}
	logger.Info("referral applied",
		zap.String("participant_id", referee.ID.String()),
		zap.String("referral_code", code))
	return nil
}

// CompleteReferral credits the referrer if the participant finished every
// task. Repeated calls never credit twice.
func (s *Service) CompleteReferral(ctx context.Context, discordID string) (bool, error) {
	return s.repo.CreditReferral(ctx, discordID, s.now())
}

// ParticipantCount counts Discord-anchored records
func (s *Service) ParticipantCount(ctx context.Context) (int64, error) {
	return s.repo.CountParticipants(ctx)
}

// Stats returns participation totals
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.repo.Stats(ctx)
}

// PartnerLookup reports whether a wallet, or failing that an email, is registered
func (s *Service) PartnerLookup(ctx context.Context, wallet, email string) (PartnerResult, error) {
	var (
		p   *models.Participant
		err error
	)
	switch {
	case strings.TrimSpace(wallet) != "":
		p, err = s.repo.FindByWallet(ctx, strings.TrimSpace(wallet))
	case strings.TrimSpace(email) != "":
		p, err = s.repo.FindByEmail(ctx, strings.TrimSpace(email))
	default:
		return PartnerResult{}, ErrMissingLookupKey
	}

	if errors.Is(err, ErrNotFound) {
		return PartnerResult{}, nil
	}
	if err != nil {
		return PartnerResult{}, err
	}
	created := p.CreatedAt
	return PartnerResult{Registered: true, Timestamp: &created}, nil
}
