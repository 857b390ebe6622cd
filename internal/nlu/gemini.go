// Package nlu wraps the Gemini API behind the engine's collaborator
// contracts: intent classification, payment fact extraction and completion
// proof verification. Output is
// requested as application/json and decoded into strict schemas; anything
// the model invents outside them is dropped.
package nlu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	genai "google.golang.org/genai"

	"github.com/punchamoorthee/bettask/internal/intent"
	"github.com/punchamoorthee/bettask/internal/reconcile"
)

var ErrInvalidJSON = errors.New("nlu: invalid JSON from model")

// Gemini is a thin wrapper around the official genai client.
type Gemini struct {
	cli   *genai.Client
	model string
	log   *zap.Logger
}

func NewGemini(ctx context.Context, apiKey, model string, log *zap.Logger) (*Gemini, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client init: %w", err)
	}
	return &Gemini{cli: cli, model: model, log: log}, nil
}

const classifyPrompt = `You classify one WhatsApp message sent to an accountability betting bot.
Reply with ONLY a JSON object: {"intent": string, "confidence": number 0-1, "fields": object of string values}.
Allowed intents: help, cancel_conversation, get_balance, transaction_history,
list_challenges, cancel_challenge, add_funds, withdraw_funds,
create_challenge_intent, create_challenge_with_amount, bet_amount,
bet_amount_all, submit_completion, information_request, general_chat.
Allowed field keys: goal, amount, recurrence.
"amount" must be digits only. "recurrence" is one of: one-time, daily, weekly, twice a week, thrice a week.

Message: %q`

// Classify satisfies the resolver's Classifier contract.
func (g *Gemini) Classify(ctx context.Context, text string) (*intent.RawClassification, error) {
	raw, err := g.generateJSON(ctx, []*genai.Part{{Text: fmt.Sprintf(classifyPrompt, text)}})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Intent     string                 `json:"intent"`
		Confidence float64                `json:"confidence"`
		Fields     map[string]interface{} `json:"fields"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	fields := make(map[string]string, len(resp.Fields))
	for k, v := range resp.Fields {
		switch val := v.(type) {
		case string:
			fields[k] = val
		case float64:
			fields[k] = fmt.Sprintf("%.0f", val)
		}
	}
	return &intent.RawClassification{
		Intent:     resp.Intent,
		Confidence: resp.Confidence,
		Fields:     fields,
	}, nil
}

const extractPrompt = `You extract payment facts from a UPI payment screenshot.
The user claims to have paid ₹%.2f to %q within the last %d hours.
Reply with ONLY a JSON object:
{"amount": number, "counterparty": string, "status": string, "within_window": boolean, "confidence": number 0-1}.
"status" is one of SUCCESS, FAILED, PENDING, UNKNOWN.
"within_window" is true only if the visible payment timestamp falls inside the claimed window.
Report exactly what the screenshot shows. If a field is unreadable, use 0, "", or UNKNOWN.`

// ExtractPaymentFacts reads a payment screenshot against an expectation and
// returns the strict facts schema the reconciler consumes. A nil result with
// a nil error never happens; extraction failure is an error for the caller
// to translate into manual review.
func (g *Gemini) ExtractPaymentFacts(ctx context.Context, media []byte, mimeType string, exp reconcile.Expectation) (*reconcile.DetectedFacts, error) {
	parts := []*genai.Part{
		{Text: fmt.Sprintf(extractPrompt, exp.Amount, exp.Counterparty, exp.WindowHours)},
		{InlineData: &genai.Blob{MIMEType: mimeType, Data: media}},
	}
	raw, err := g.generateJSON(ctx, parts)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Amount       float64 `json:"amount"`
		Counterparty string  `json:"counterparty"`
		Status       string  `json:"status"`
		WithinWindow bool    `json:"within_window"`
		Confidence   float64 `json:"confidence"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return &reconcile.DetectedFacts{
		Amount:        resp.Amount,
		Counterparty:  resp.Counterparty,
		Status:        reconcile.NormalizeStatus(resp.Status),
		WithinWindow:  resp.WithinWindow,
		RawConfidence: resp.Confidence,
	}, nil
}

const verifyPrompt = `You verify a completion proof photo for an accountability bet.
The user committed to: %q
They sent this photo claiming the goal is done.
Reply with ONLY a JSON object: {"verified": boolean, "confidence": number 0-1, "reason": string}.
"verified" is true only if the photo plausibly shows the committed goal being done.
"reason" is one short sentence explaining the verdict in plain language.
Judge only what the photo shows; an unrelated or unreadable photo is not verified.`

// VerifyCompletionProof judges proof media against the goal text. The bool
// is the verdict; the reason is user-facing and safe to echo back.
func (g *Gemini) VerifyCompletionProof(ctx context.Context, media []byte, mimeType, goal string) (bool, float64, string, error) {
	parts := []*genai.Part{
		{Text: fmt.Sprintf(verifyPrompt, goal)},
		{InlineData: &genai.Blob{MIMEType: mimeType, Data: media}},
	}
	raw, err := g.generateJSON(ctx, parts)
	if err != nil {
		return false, 0, "", err
	}

	var resp struct {
		Verified   bool    `json:"verified"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return false, 0, "", fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return resp.Verified, resp.Confidence, resp.Reason, nil
}

// generateJSON sends the parts and requests application/json, retrying with
// backoff on transient failures.
func (g *Gemini) generateJSON(ctx context.Context, parts []*genai.Part) (json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		resp, err := g.cli.Models.GenerateContent(ctx, g.model,
			[]*genai.Content{{Parts: parts}},
			&genai.GenerateContentConfig{ResponseMIMEType: "application/json"},
		)
		if err != nil {
			lastErr = err
		} else if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
			lastErr = ErrInvalidJSON
		} else {
			return json.RawMessage(resp.Candidates[0].Content.Parts[0].Text), nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(300*(1<<attempt)) * time.Millisecond):
		}
	}
	g.log.Warn("gemini call failed after retries", zap.Error(lastErr))
	return nil, lastErr
}
