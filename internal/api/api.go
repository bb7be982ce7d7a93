// Package api はハンドラー本体と gin の間をつなぐ入出力の型を提供します。
//
// ハンドラー本体はボディの Binder と現在のセッション状態を受け取り、
// ステータス・JSON・セッション変更を Response として返します。
// セッションの読み書きとレスポンスの書き込みは Adapt が行います。
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/yourusername/recipe-box/internal/session"
	"github.com/yourusername/recipe-box/internal/store"
)

// ContextRequestIDKey はリクエストIDを gin.Context に保存するキーです。
const ContextRequestIDKey = "request.id"

const (
	MsgUnauthorized   = "Unauthorized"
	MsgInvalidJSON    = "Invalid JSON body"
	MsgInternalServer = "Internal server error"
)

// maxBodyBytes はリクエストボディの上限です。
const maxBodyBytes = 1 << 20

// Binder はリクエストボディを obj へ読み込む関数です。
type Binder func(obj any) error

// JSONBody は data を JSON ボディとして読み込む Binder を返します。
func JSONBody(data string) Binder {
	return func(obj any) error {
		return binding.JSON.BindBody([]byte(data), obj)
	}
}

// Request はハンドラー本体への入力です。
type Request struct {
	Binder   Binder
	Identity session.Identity
	ClientIP string
}

// Bind はリクエストボディを obj へ読み込みます。
// ボディが空の場合は何も読み込まず nil を返します。
func (r Request) Bind(obj any) error {
	if r.Binder == nil {
		return nil
	}
	if err := r.Binder(obj); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Response はハンドラー本体の処理結果です。
type Response struct {
	Status  int
	Body    any
	Headers map[string]string
	Session session.Mutation
	Err     error // ログ出力用。クライアントには返さない
}

// HandlerFunc はハンドラー本体のシグネチャです。
type HandlerFunc func(ctx context.Context, req Request) Response

// JSON は status と body のレスポンスを作成します。
func JSON(status int, body any) Response {
	return Response{Status: status, Body: body, Session: session.Keep()}
}

// NoContent は 204 のレスポンスを作成します。
func NoContent() Response {
	return Response{Status: http.StatusNoContent, Session: session.Keep()}
}

// Error は {"error": msg} 形式のレスポンスを作成します。
func Error(status int, msg string) Response {
	return JSON(status, gin.H{"error": msg})
}

// Unauthorized は 401 のレスポンスを作成します。
func Unauthorized() Response {
	return Error(http.StatusUnauthorized, MsgUnauthorized)
}

// Internal は 500 のレスポンスを作成します。エラー内容はログにのみ出力します。
func Internal(err error) Response {
	resp := Error(http.StatusInternalServerError, MsgInternalServer)
	resp.Err = err
	return resp
}

// Missing は "Missing <field> field" の 422 レスポンスを作成します。
func Missing(field string) Response {
	return Error(http.StatusUnprocessableEntity, fmt.Sprintf("Missing %s field", field))
}

// Invalid は "Invalid <field> field" の 422 レスポンスを作成します。
func Invalid(field string) Response {
	return Error(http.StatusUnprocessableEntity, fmt.Sprintf("Invalid %s field", field))
}

// FromValidation は store.ValidationError を 422 レスポンスへ変換します。
func FromValidation(vErr *store.ValidationError) Response {
	return Error(http.StatusUnprocessableEntity, fmt.Sprintf("Invalid %s field: %s", vErr.Field, vErr.Reason))
}

// BindError は Bind のエラーを 422 レスポンスへ変換します。
// 型の合わない項目は "Invalid <field> field"、それ以外は "Invalid JSON body" です。
func BindError(err error) Response {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return Invalid(typeErr.Field)
	}
	return Error(http.StatusUnprocessableEntity, MsgInvalidJSON)
}

// WithSession はセッション変更を付与したレスポンスを返します。
func (r Response) WithSession(m session.Mutation) Response {
	r.Session = m
	return r
}

// WithHeader はヘッダーを付与したレスポンスを返します。
func (r Response) WithHeader(key, value string) Response {
	headers := make(map[string]string, len(r.Headers)+1)
	for k, v := range r.Headers {
		headers[k] = v
	}
	headers[key] = value
	r.Headers = headers
	return r
}

// Adapt はハンドラー本体を gin.HandlerFunc に変換します。
func Adapt(sessions *session.Manager, logger *slog.Logger, h HandlerFunc) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		req := Request{
			Identity: sessions.Identity(c),
			ClientIP: c.ClientIP(),
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
			req.Binder = c.ShouldBindJSON
		}

		resp := h(c.Request.Context(), req)

		if err := sessions.Apply(c, resp.Session); err != nil {
			resp = Internal(fmt.Errorf("failed to save session: %w", err))
		}

		if resp.Err != nil {
			logger.ErrorContext(c.Request.Context(), "request failed",
				"request_id", c.GetString(ContextRequestIDKey),
				"method", c.Request.Method,
				"path", c.FullPath(),
				"error", resp.Err,
			)
		}
		write(c, resp)
	}
}

func write(c *gin.Context, resp Response) {
	for k, v := range resp.Headers {
		c.Header(k, v)
	}
	if resp.Status == http.StatusNoContent || resp.Body == nil {
		c.Status(resp.Status)
		return
	}
	c.JSON(resp.Status, resp.Body)
}
