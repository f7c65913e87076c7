// Package events mints the shared sessions that peers meet in. An event's
// code is the signaling group key handed to both clients.
package events

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"peerlink/backend/internal/config"
	"peerlink/backend/internal/models"
	"peerlink/backend/internal/relayerr"
	"peerlink/backend/internal/storage"

	"github.com/rs/zerolog/log"
)

const (
	Digits       = "0123456789"
	CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	codeAttempts = 8
)

// GenerateCode returns n characters drawn uniformly from alphabet.
func GenerateCode(alphabet string, n int) string {
	max := big.NewInt(int64(len(alphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		b[i] = alphabet[idx.Int64()]
	}
	return string(b)
}

// Create stores a new event owned by ownerID with a fresh numeric code.
// Each attempt runs in its own savepoint, so a code collision does not spoil
// an enclosing transaction.
func Create(ctx context.Context, st storage.Storage, title, ownerID string, participants ...string) (*models.Event, error) {
	ids := append([]string{ownerID}, participants...)
	var invited *string
	if len(participants) > 0 {
		invited = &participants[0]
	}

	for attempt := 0; attempt < codeAttempts; attempt++ {
		event := &models.Event{
			Code:           GenerateCode(Digits, config.EventCodeLength),
			Title:          title,
			OwnerID:        ownerID,
			InvitedUserID:  invited,
			ParticipantIDs: dedupe(ids),
		}
		err := st.Transaction(ctx, func(tx storage.Storage) error {
			return tx.CreateEvent(ctx, event)
		})
		if err == nil {
			return event, nil
		}
		if !errors.Is(err, relayerr.ErrConflict) {
			return nil, err
		}
		log.Debug().Str("code", event.Code).Msg("event code collision, retrying")
	}
	return nil, relayerr.New(relayerr.ErrConflict, "no free event code after %d attempts", codeAttempts)
}

// AddParticipant extends the event behind code with userID.
func AddParticipant(ctx context.Context, st storage.Storage, code, userID string) (*models.Event, error) {
	return st.AddEventParticipant(ctx, code, userID)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
