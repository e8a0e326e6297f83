package app

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tether/cmd/internal/auth/session"
	"tether/cmd/internal/realtime"
)

// Dev sessions outlive their access tokens so a refreshed page can mint a
// new token without re-seeding.
const devSessionTTL = 24 * time.Hour

// newDevTokenHandler mints an access token for an arbitrary user id and seeds
// the in-memory stores behind it. Registered only when DevInsecure is set and
// the app runs without a database.
//
// GET /dev/token?user_id=u1&username=alice&channels=c1,c2
func newDevTokenHandler(log Logger, svc *session.Service, sessions *session.MemoryStore, chat *realtime.InMemoryChatStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
		if userID == "" {
			http.Error(w, "user_id required", http.StatusBadRequest)
			return
		}

		username := strings.TrimSpace(r.URL.Query().Get("username"))
		if username == "" {
			username = userID
		}

		now := time.Now().UTC()
		sessionID := "dev-" + userID + "-" + strconv.FormatInt(now.UnixNano(), 36)

		sessions.Put(session.Row{
			ID:        sessionID,
			UserID:    userID,
			CreatedAt: now,
			ExpiresAt: now.Add(devSessionTTL),
		})

		if chat != nil {
			chat.AddUser(userID, realtime.DisplayInfo{Username: username})
			for _, ch := range strings.Split(r.URL.Query().Get("channels"), ",") {
				if ch = strings.TrimSpace(ch); ch != "" {
					chat.AddChannel(ch, userID)
				}
			}
		}

		token, exp, err := svc.IssueAccessToken(userID, sessionID, now)
		if err != nil {
			log.Error("dev_token.issue.fail", "user_id", userID, "err", err)
			http.Error(w, "token issue failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token":      token,
			"session_id": sessionID,
			"user_id":    userID,
			"expires_at": exp,
		})
	}
}
