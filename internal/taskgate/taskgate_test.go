package taskgate

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/neftit/taskgate/internal/models"
)

func strPtr(s string) *string { return &s }

func TestCompute(t *testing.T) {
	tests := []struct {
		name   string
		record *models.Participant
		want   Tasks
	}{
		{
			name:   "no record",
			record: nil,
			want:   Tasks{Discord: StatusUnlocked, Twitter: StatusLocked, Wallet: StatusLocked},
		},
		{
			name:   "discord connected, not joined",
			record: &models.Participant{DiscordProviderID: strPtr("123456789012345678")},
			want:   Tasks{Discord: StatusInProgress, Twitter: StatusLocked, Wallet: StatusLocked},
		},
		{
			name: "discord joined",
			record: &models.Participant{
				DiscordProviderID: strPtr("123456789012345678"),
				DiscordJoined:     true,
			},
			want: Tasks{Discord: StatusCompleted, Twitter: StatusUnlocked, Wallet: StatusLocked},
		},
		{
			name: "x connected but not followed",
			record: &models.Participant{
				DiscordProviderID: strPtr("123456789012345678"),
				DiscordJoined:     true,
				TwitterProviderID: strPtr("42"),
			},
			want: Tasks{Discord: StatusCompleted, Twitter: StatusUnlocked, Wallet: StatusLocked},
		},
		{
			name: "followed",
			record: &models.Participant{
				DiscordProviderID: strPtr("123456789012345678"),
				DiscordJoined:     true,
				TwitterProviderID: strPtr("42"),
				TwitterFollowed:   true,
			},
			want: Tasks{Discord: StatusCompleted, Twitter: StatusUnlocked, Wallet: StatusUnlocked},
		},
		{
			name: "followed without discord join still unlocks x and wallet",
			record: &models.Participant{
				TwitterProviderID: strPtr("42"),
				TwitterFollowed:   true,
			},
			want: Tasks{Discord: StatusInProgress, Twitter: StatusUnlocked, Wallet: StatusUnlocked},
		},
		{
			name: "wallet submitted",
			record: &models.Participant{
				DiscordProviderID: strPtr("123456789012345678"),
				DiscordJoined:     true,
				TwitterProviderID: strPtr("42"),
				TwitterFollowed:   true,
				WalletAddress:     strPtr("0xABCDEF0123456789ABCDEF0123456789ABCDEF01"),
			},
			want: Tasks{Discord: StatusCompleted, Twitter: StatusCompleted, Wallet: StatusCompleted},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compute(tt.record))
		})
	}
}

func TestWalletImpliesAllCompleted(t *testing.T) {
	wallet := strPtr("0xABCDEF0123456789ABCDEF0123456789ABCDEF01")
	for _, joined := range []bool{false, true} {
		for _, followed := range []bool{false, true} {
			p := &models.Participant{
				DiscordJoined:   joined,
				TwitterFollowed: followed,
				WalletAddress:   wallet,
			}
			tasks := Compute(p)
			assert.Equal(t, StatusCompleted, tasks.Twitter)
			assert.Equal(t, StatusCompleted, tasks.Wallet)
			if joined {
				assert.Equal(t, StatusCompleted, tasks.Discord)
			}
		}
	}
}

func TestProject(t *testing.T) {
	id := uuid.New()
	p := &models.Participant{
		Base:              models.Base{ID: id},
		DiscordProviderID: strPtr("123456789012345678"),
		DiscordJoined:     true,
		TwitterProviderID: strPtr("42"),
	}

	s := Project(p)
	assert.Equal(t, id.String(), s.ID)
	assert.True(t, s.DiscordConnected)
	assert.True(t, s.DiscordJoined)
	assert.True(t, s.TwitterConnected)
	assert.False(t, s.TwitterFollowed)
	assert.False(t, s.WalletConnected)
	assert.Empty(t, s.WalletAddress)
	assert.Equal(t, StatusUnlocked, s.Tasks.Twitter)
	assert.False(t, AllCompleted(p))

	p.WalletAddress = strPtr("0xABCDEF0123456789ABCDEF0123456789ABCDEF01")
	assert.True(t, AllCompleted(p))
	assert.Equal(t, "0xABCDEF0123456789ABCDEF0123456789ABCDEF01", Project(p).WalletAddress)
}
