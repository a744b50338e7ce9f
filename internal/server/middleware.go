package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/acpgateway/internal/auth"
	"github.com/smallbiznis/acpgateway/internal/authorization"
	"github.com/smallbiznis/acpgateway/internal/idempotency"
	obscontext "github.com/smallbiznis/acpgateway/internal/observability/context"
	"github.com/smallbiznis/acpgateway/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	contextHeadersKey = "acp_headers"
	contextTokenKey   = "acp_token"

	maxBodyBytes = 1 << 20
)

// AgentAuthRequired validates the full ACP header contract and the optional
// body signature for every agent request.
func (s *Server) AgentAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		endpoint := normalizeEndpoint(c)

		headers, err := s.validator.ValidateHeaders(c.Request.Header)
		if err != nil {
			s.denyAuth(c, endpoint, err)
			return
		}

		body, err := readBody(c)
		if err != nil {
			AbortWithError(c, invalidRequestError("Request body could not be read"))
			return
		}
		if err := s.validator.VerifyBody(headers, body); err != nil {
			s.denyAuth(c, endpoint, err)
			return
		}

		ctx = obscontext.WithActor(ctx, authorization.ActorAgent, "")
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextHeadersKey, headers)
		c.Set(contextTokenKey, headers.Token)
		c.Next()
	}
}

func (s *Server) MerchantAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.validator.AuthenticateMerchant(c.GetHeader(auth.HeaderAuthorization)); err != nil {
			s.denyAuth(c, normalizeEndpoint(c), err)
			return
		}
		c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), authorization.ActorMerchant, ""))
		c.Next()
	}
}

func (s *Server) Authorize(actor, object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authzSvc.Authorize(c.Request.Context(), actor, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// Idempotent reserves the Idempotency-Key before the handler runs. The marker
// is dropped when the handler fails with a server error so the client may
// retry; any other outcome is stored as the final result.
func (s *Server) Idempotent() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		headers, ok := c.Get(contextHeadersKey)
		if !ok {
			AbortWithError(c, errors.New("idempotency middleware requires agent auth"))
			return
		}
		key := headers.(*auth.Headers).IdempotencyKey

		if err := s.idempotency.CheckAndReserve(ctx, key); err != nil {
			if errors.Is(err, idempotency.ErrDuplicateRequest) {
				logger.FromContext(ctx).Warn("duplicate request rejected",
					zap.String("idempotency_key", key),
					zap.String("endpoint", normalizeEndpoint(c)),
				)
				s.obsMetrics.RecordIdempotencyRejected(ctx, normalizeEndpoint(c))
				AbortWithError(c, err)
				return
			}
			logger.FromContext(ctx).Error("idempotency reservation failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}

		capture := &bodyCaptureWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = capture
		c.Next()

		status := c.Writer.Status()
		if last := c.Errors.Last(); last != nil && !c.Writer.Written() {
			status, _ = mapError(last.Err)
		}

		storeCtx := context.WithoutCancel(ctx)
		if status >= http.StatusInternalServerError {
			if err := s.idempotency.Release(storeCtx, key); err != nil {
				logger.FromContext(ctx).Warn("idempotency release failed", zap.Error(err))
			}
			return
		}
		if err := s.idempotency.StoreResult(storeCtx, key, idempotency.Record{
			State:      idempotency.StateCompleted,
			StatusCode: status,
			Body:       capture.body.Bytes(),
		}); err != nil {
			logger.FromContext(ctx).Warn("idempotency result store failed", zap.Error(err))
		}
	}
}

func (s *Server) denyAuth(c *gin.Context, endpoint string, err error) {
	ctx := c.Request.Context()
	reason := "unknown"
	var authErr *auth.Error
	if errors.As(err, &authErr) {
		reason = authErr.Reason
	}
	logger.FromContext(ctx).Warn("request authentication failed",
		zap.String("endpoint", endpoint),
		zap.String("reason", reason),
	)
	s.obsMetrics.RecordAuthFailure(ctx, endpoint, reason)
	AbortWithError(c, err)
}

func readBody(c *gin.Context) ([]byte, error) {
	if c.Request.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	return body, nil
}

type bodyCaptureWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *bodyCaptureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyCaptureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

func normalizeEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	if endpoint := c.FullPath(); endpoint != "" {
		return endpoint
	}
	if c.Request != nil && c.Request.URL.Path != "" {
		return c.Request.URL.Path
	}
	return "unknown"
}
