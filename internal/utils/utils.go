package utils

import (
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/scythe504/dejavu-backend/internal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

var roomCodePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// GenerateRoomCode creates a random room code from the unambiguous alphabet
func GenerateRoomCode() string {
	code := make([]byte, internal.RoomCodeLength)
	for i := range internal.RoomCodeLength {
		n, err := crand.Int(crand.Reader, big.NewInt(int64(len(internal.RoomCodeChars))))
		if err != nil {
			code[i] = internal.RoomCodeChars[rand.IntN(len(internal.RoomCodeChars))]
			continue
		}
		code[i] = internal.RoomCodeChars[n.Int64()]
	}
	return string(code)
}

// NormalizeRoomCode upper-cases a client supplied code
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func ValidRoomCode(code string) bool {
	return roomCodePattern.MatchString(code)
}

// GeneratePlayerID returns "p" followed by 8 hex characters
func GeneratePlayerID() string {
	id := uuid.New()
	return "p" + hex.EncodeToString(id[:4])
}

// GenerateSessionToken builds {roomCode}.{playerId}.{timestamp}.{random}.
// The random part carries 128 bits from crypto/rand.
func GenerateSessionToken(roomCode, playerID string, now time.Time) string {
	nonce := make([]byte, 16)
	if _, err := crand.Read(nonce); err != nil {
		id := uuid.New()
		copy(nonce, id[:])
	}
	return fmt.Sprintf("%s.%s.%d.%s", roomCode, playerID, now.UnixMilli(), hex.EncodeToString(nonce))
}

// SessionTokenRoom returns the room code a token was issued for.
func SessionTokenRoom(token string) (string, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 || parts[0] == "" {
		return "", false
	}
	return parts[0], true
}
