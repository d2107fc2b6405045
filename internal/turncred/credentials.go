// Package turncred issues short-lived relay credentials compatible with the
// TURN REST auth scheme (coturn --use-auth-secret):
//
//	username   = <unix_expiry_timestamp>:<tenant_id>
//	credential = base64(hmac_sha1(shared_secret, username))
//
// Any relay holding the shared secret can verify a credential and reject an
// expired username without consulting this service.
package turncred

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
)

// Credential is the value object handed to joining participants. It is never
// persisted; it is valid only until ExpiryUnix.
type Credential struct {
	Username   string   `json:"username"`
	Credential string   `json:"credential"`
	TTLSeconds int64    `json:"ttl_seconds"`
	ExpiryUnix int64    `json:"expiry_unix"`
	URLs       []string `json:"urls"`
}

// Config configures an Issuer. SharedSecret is required; a missing secret is
// a startup failure, not a per-call one.
type Config struct {
	SharedSecret string
	TTLSeconds   int64
	URLs         []string
	Now          func() time.Time
}

// Issuer derives relay credentials from the shared secret. Stateless.
type Issuer struct {
	sharedSecret []byte
	ttlSeconds   int64
	urls         []string
	now          func() time.Time
}

// NewIssuer validates the config and creates an issuer.
func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.SharedSecret == "" {
		return nil, errors.New("turncred: shared secret is required")
	}
	if cfg.TTLSeconds <= 0 {
		cfg.TTLSeconds = 3600
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Issuer{
		sharedSecret: []byte(cfg.SharedSecret),
		ttlSeconds:   cfg.TTLSeconds,
		urls:         cfg.URLs,
		now:          cfg.Now,
	}, nil
}

// Issue mints a credential for the tenant, valid for the configured TTL.
func (i *Issuer) Issue(tenantID uuid.UUID) Credential {
	expiry := i.now().UTC().Unix() + i.ttlSeconds
	username := fmt.Sprintf("%d:%s", expiry, tenantID)
	return Credential{
		Username:   username,
		Credential: sign(i.sharedSecret, username),
		TTLSeconds: i.ttlSeconds,
		ExpiryUnix: expiry,
		URLs:       i.urls,
	}
}

// ICEServers renders the credential as WebRTC ICE server entries for client
// bootstrap. STUN entries ignore the credentials; TURN entries require them.
func ICEServers(c Credential) []webrtc.ICEServer {
	if len(c.URLs) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{
		URLs:       c.URLs,
		Username:   c.Username,
		Credential: c.Credential,
	}}
}

func sign(secret []byte, username string) string {
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
