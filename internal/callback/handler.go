package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"viabill-be/internal/logger"
	"viabill-be/internal/payment"
	"viabill-be/internal/viabill"

	"go.uber.org/zap"
)

const maxBodySize = 1 << 20

// Log is the callback delivery log. payment.Repository satisfies it.
type Log interface {
	RecordCallback(ctx context.Context, d *payment.CallbackDelivery) (callbackID int64, processed bool, err error)
	MarkCallbackProcessed(ctx context.Context, callbackID int64) error
	MarkCallbackFailed(ctx context.Context, callbackID int64, reason string) error
}

type Processor interface {
	HandleNotification(ctx context.Context, n viabill.Notification) (payment.Outcome, error)
}

type Recorder interface {
	CallbackHandled(result string)
}

type Handler struct {
	verifier  *Verifier
	processor Processor
	log       Log
	recorder  Recorder
}

func NewHandler(verifier *Verifier, processor Processor, log Log, recorder Recorder) *Handler {
	return &Handler{
		verifier:  verifier,
		processor: processor,
		log:       log,
		recorder:  recorder,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromCtx(ctx)

	if r.Method != http.MethodPost {
		h.reply(w, "method_not_allowed", http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		log.Warn("Callback with unsupported content type", zap.String("content_type", r.Header.Get("Content-Type")))
		h.reply(w, "malformed", http.StatusBadRequest, "unsupported content type")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		h.reply(w, "malformed", http.StatusBadRequest, "failed to read body")
		return
	}
	defer r.Body.Close()

	var data map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		h.reply(w, "malformed", http.StatusBadRequest, "invalid JSON payload")
		return
	}

	n, verr := h.verifier.Verify(data)
	if errors.Is(verr, ErrMalformedNotification) {
		log.Warn("Malformed callback", zap.Error(verr))
		h.reply(w, "malformed", http.StatusBadRequest, "malformed notification")
		return
	}
	if verr != nil && !errors.Is(verr, viabill.ErrSignatureMismatch) {
		log.Error("Callback could not be verified", zap.Error(verr))
		h.reply(w, "error", http.StatusInternalServerError, "internal error")
		return
	}

	delivery := &payment.CallbackDelivery{
		Transaction:    text(data["transaction"]),
		Status:         text(data["status"]),
		Signature:      text(data["signature"]),
		SignatureValid: verr == nil,
		Payload:        json.RawMessage(body),
	}
	log = log.With(
		zap.String("transaction", delivery.Transaction),
		zap.String("status", delivery.Status),
	)

	callbackID, processed, err := h.log.RecordCallback(ctx, delivery)
	if err != nil {
		log.Error("Failed to record callback", zap.Error(err))
		h.reply(w, "error", http.StatusInternalServerError, "internal error")
		return
	}

	if verr != nil {
		log.Warn("Callback signature mismatch", zap.Int64("callback_id", callbackID), zap.Error(verr))
		h.markFailed(ctx, log, callbackID, verr)
		h.reply(w, "invalid_signature", http.StatusBadRequest, "invalid signature")
		return
	}

	if processed {
		log.Info("Callback already processed", zap.Int64("callback_id", callbackID))
		h.reply(w, "duplicate", http.StatusOK, "ok")
		return
	}

	outcome, err := h.processor.HandleNotification(ctx, *n)
	if err != nil {
		h.markFailed(ctx, log, callbackID, err)
		status, msg := statusFor(err)
		if status >= http.StatusInternalServerError {
			log.Error("Callback processing failed", zap.Error(err))
		} else {
			log.Warn("Callback rejected", zap.Error(err))
		}
		h.reply(w, "error", status, msg)
		return
	}

	if err := h.log.MarkCallbackProcessed(ctx, callbackID); err != nil {
		log.Error("Failed to mark callback processed", zap.Int64("callback_id", callbackID), zap.Error(err))
	}

	log.Info("Callback processed", zap.String("outcome", string(outcome)))
	h.reply(w, string(outcome), http.StatusOK, "ok")
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrMalformedNotification),
		errors.Is(err, viabill.ErrSignatureMismatch),
		errors.Is(err, payment.ErrUnknownStatus):
		return http.StatusBadRequest, "invalid notification"
	case errors.Is(err, payment.ErrOrderNotFound):
		return http.StatusNotFound, "order not found"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (h *Handler) markFailed(ctx context.Context, log *zap.Logger, callbackID int64, cause error) {
	if err := h.log.MarkCallbackFailed(ctx, callbackID, cause.Error()); err != nil {
		log.Error("Failed to mark callback failed", zap.Int64("callback_id", callbackID), zap.Error(err))
	}
}

func (h *Handler) reply(w http.ResponseWriter, result string, status int, msg string) {
	if h.recorder != nil {
		h.recorder.CallbackHandled(result)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprint(w, msg)
}
