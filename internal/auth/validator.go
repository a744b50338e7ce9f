package auth

import (
	"crypto/subtle"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/acpgateway/internal/clock"
	"github.com/smallbiznis/acpgateway/internal/config"
	"github.com/smallbiznis/acpgateway/internal/idempotency"
	"github.com/smallbiznis/acpgateway/internal/signature"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	HeaderAuthorization  = "Authorization"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderRequestID      = "Request-Id"
	HeaderTimestamp      = "Timestamp"
	HeaderSignature      = "Signature"
	HeaderAPIVersion     = "API-Version"
)

const DefaultTimestampTolerance = 300 * time.Second

var requiredHeaders = []string{HeaderIdempotencyKey, HeaderRequestID, HeaderTimestamp}

var bearerPattern = regexp.MustCompile(`(?i)^Bearer\s+(.+)$`)

var Module = fx.Module("auth",
	fx.Provide(New),
)

// Headers is the validated header bag of an agent request.
type Headers struct {
	IdempotencyKey string
	RequestID      string
	Timestamp      int64
	Token          string
	Signature      string
	APIVersion     string
}

type Validator struct {
	cfg   config.ACPConfig
	clock clock.Clock
	log   *zap.Logger
}

type Params struct {
	fx.In

	Cfg   config.Config
	Clock clock.Clock
	Log   *zap.Logger
}

func New(p Params) *Validator {
	return NewValidator(p.Cfg.ACP, p.Clock, p.Log)
}

func NewValidator(cfg config.ACPConfig, clk clock.Clock, log *zap.Logger) *Validator {
	if cfg.TimestampTolerance <= 0 {
		cfg.TimestampTolerance = DefaultTimestampTolerance
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Validator{cfg: cfg, clock: clk, log: log.Named("auth.validator")}
}

// ValidateHeaders checks the ACP header contract and the agent bearer token.
// Idempotency reservation is left to the caller so it happens last.
func (v *Validator) ValidateHeaders(h http.Header) (*Headers, error) {
	for _, name := range requiredHeaders {
		if strings.TrimSpace(h.Get(name)) == "" {
			return nil, newError(ReasonMissingHeader, "Missing required header: "+name)
		}
	}

	token, err := v.bearerToken(h.Get(HeaderAuthorization))
	if err != nil {
		return nil, err
	}
	if !v.tokenMatches(token, v.cfg.APIKey) {
		return nil, newError(ReasonAuthorization, "Invalid or expired token")
	}

	ts, err := v.checkTimestamp(h.Get(HeaderTimestamp))
	if err != nil {
		return nil, err
	}

	key := strings.TrimSpace(h.Get(HeaderIdempotencyKey))
	if !idempotency.ValidKey(key) {
		return nil, newError(ReasonIdempotencyKey, "Invalid idempotency key format")
	}

	return &Headers{
		IdempotencyKey: key,
		RequestID:      strings.TrimSpace(h.Get(HeaderRequestID)),
		Timestamp:      ts,
		Token:          token,
		Signature:      strings.TrimSpace(h.Get(HeaderSignature)),
		APIVersion:     strings.TrimSpace(h.Get(HeaderAPIVersion)),
	}, nil
}

// AuthenticateMerchant checks the bearer token against the merchant key used
// by internal endpoints.
func (v *Validator) AuthenticateMerchant(authorization string) error {
	token, err := v.bearerToken(authorization)
	if err != nil {
		return err
	}
	if !v.tokenMatches(token, v.cfg.MerchantAPIKey) {
		return newError(ReasonAuthorization, "Invalid or expired token")
	}
	return nil
}

// VerifyBody enforces the request body signature when signatures are required.
func (v *Validator) VerifyBody(headers *Headers, body []byte) error {
	if !v.cfg.SignatureRequired {
		return nil
	}
	if headers == nil || headers.Signature == "" {
		return newError(ReasonMissingHeader, "Missing required header: "+HeaderSignature)
	}
	if !signature.Verify(body, headers.Signature, v.cfg.SigningSecret) {
		v.log.Warn("request signature mismatch")
		return newError(ReasonSignature, "Invalid request signature")
	}
	return nil
}

func (v *Validator) bearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", newError(ReasonAuthorization, "Authorization header required")
	}
	matches := bearerPattern.FindStringSubmatch(header)
	if len(matches) != 2 || strings.TrimSpace(matches[1]) == "" {
		return "", newError(ReasonAuthorization, "Invalid authorization format")
	}
	return strings.TrimSpace(matches[1]), nil
}

// tokenMatches never accepts an unset key.
func (v *Validator) tokenMatches(token, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}

func (v *Validator) checkTimestamp(raw string) (int64, error) {
	ts, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, newError(ReasonTimestamp, "Timestamp must be a valid Unix timestamp")
	}

	now := v.clock.Now().Unix()
	tolerance := int64(v.cfg.TimestampTolerance / time.Second)
	if ts < now-tolerance {
		return 0, newError(ReasonTimestamp, "Timestamp is too old (replay attack prevention)")
	}
	if ts > now+tolerance {
		return 0, newError(ReasonTimestamp, "Timestamp is in the future")
	}
	return ts, nil
}
