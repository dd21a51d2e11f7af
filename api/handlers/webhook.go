package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/levelflow/levelflow/service"
	"github.com/levelflow/levelflow/types"
)

// maxWebhookBody 外部投递的请求体上限
const maxWebhookBody = 1 << 20 // 1 MB

// =============================================================================
// 🔗 Webhook 投递 Handler
// =============================================================================

// WebhookHandler 接收外部 HTTP 投递并派发给已注册的端点绑定。
// 配置了 Secret 的端点要求 Bearer JWT（HS256，以 Secret 为密钥）。
type WebhookHandler struct {
	orch   *service.Orchestrator
	logger *zap.Logger
}

// NewWebhookHandler 创建 Webhook Handler
func NewWebhookHandler(orch *service.Orchestrator, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		orch:   orch,
		logger: logger.With(zap.String("component", "webhook_handler")),
	}
}

// HandleDispatch 派发一次 Webhook 投递
// @Router /v1/hooks/{endpoint} [post]
func (h *WebhookHandler) HandleDispatch(w http.ResponseWriter, r *http.Request) {
	endpoint := r.PathValue("endpoint")
	if endpoint == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "endpoint is required", h.logger)
		return
	}
	// 绑定中的端点带前导斜杠
	endpoint = "/" + strings.TrimPrefix(endpoint, "/")

	svc, err := h.orch.Get(r.Context())
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	webhook := svc.Registry.Webhook()

	secret, bound := webhook.Secret(endpoint)
	if !bound {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "no binding for endpoint", h.logger)
		return
	}

	if secret != "" {
		if err := verifyBearerJWT(r, secret); err != nil {
			h.logger.Warn("webhook auth failed",
				zap.String("endpoint", endpoint),
				zap.Error(err),
			)
			WriteErrorMessage(w, http.StatusUnauthorized, types.ErrUnauthorized, "invalid or missing token", h.logger)
			return
		}
	}

	payload, err := readPayload(r)
	if err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "invalid JSON payload", h.logger)
		return
	}

	matched := webhook.Dispatch(r.Context(), endpoint, r.Method, payload)
	if matched == 0 {
		// 端点存在但方法不匹配
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest,
			"no binding accepts this method", h.logger)
		return
	}

	h.logger.Info("webhook dispatched",
		zap.String("endpoint", endpoint),
		zap.String("method", r.Method),
		zap.Int("matched", matched),
	)
	WriteJSON(w, http.StatusAccepted, Response{
		Success:   true,
		Data:      map[string]any{"endpoint": endpoint, "matched": matched},
		Timestamp: time.Now(),
	})
}

// =============================================================================
// Helper Functions
// =============================================================================

// verifyBearerJWT 校验 Authorization: Bearer 中的 HS256 JWT
func verifyBearerJWT(r *http.Request, secret string) error {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return fmt.Errorf("missing or malformed Authorization header")
	}
	tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

	token, err := jwt.Parse(tokenStr,
		func(token *jwt.Token) (any, error) {
			return []byte(secret), nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
	)
	if err != nil {
		return err
	}
	if !token.Valid {
		return fmt.Errorf("invalid token")
	}
	return nil
}

// readPayload 读取并解析请求体。空请求体返回空 map。
func readPayload(r *http.Request) (map[string]any, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return map[string]any{}, nil
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
