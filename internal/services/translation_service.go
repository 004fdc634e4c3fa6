package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/talkbridge/backend/internal/config"
)

var ErrTranslationUnavailable = errors.New("translation service not configured")

// TranslationService turns in-call voice payloads into text in the peer's
// language: speech recognition first, then a chat-completion translation.
type TranslationService struct {
	speech *speech.Client
	http   *http.Client
	cfg    config.TranslationConfig
}

type TranscribeRequest struct {
	Audio        string `json:"audio" validate:"required"`
	Encoding     string `json:"encoding"`
	SampleRate   int    `json:"sample_rate"`
	LanguageCode string `json:"language_code"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func NewTranslationService(ctx context.Context, cfg config.TranslationConfig) *TranslationService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	s := &TranslationService{
		http: &http.Client{Timeout: cfg.Timeout},
		cfg:  cfg,
	}
	if cfg.SpeechEnabled {
		client, err := speech.NewClient(ctx)
		if err != nil {
			log.Printf("Warning: Failed to initialize speech client, treating audio payloads as text: %v", err)
		} else {
			s.speech = client
		}
	}
	return s
}

// TranslateAudio transcribes req.AudioData when speech recognition is
// available and translates the result. Without a speech client the payload
// is taken to be text already.
func (s *TranslationService) TranslateAudio(ctx context.Context, req AudioTranslation) (string, error) {
	text := req.AudioData
	if s.speech != nil {
		transcript, confidence, err := s.Transcribe(ctx, TranscribeRequest{Audio: req.AudioData, LanguageCode: req.SourceLanguage})
		if err != nil {
			return "", err
		}
		log.Printf("[TRANSLATE] call %d transcribed, confidence: %.2f", req.CallID, confidence)
		text = transcript
	}
	return s.Translate(ctx, text, req.TargetLanguage)
}

// Translate asks the chat-completion endpoint for text in targetLang. An
// empty completion returns the input unchanged.
func (s *TranslationService) Translate(ctx context.Context, text, targetLang string) (string, error) {
	if s.cfg.APIKey == "" || s.cfg.APIURL == "" {
		return "", ErrTranslationUnavailable
	}
	if targetLang == "" {
		return "", errors.New("target language is required")
	}

	body, err := json.Marshal(chatRequest{
		Model: s.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: fmt.Sprintf("You are a professional translator. Translate the following text into %s accurately.", targetLang)},
			{Role: "user", Content: text},
		},
		Temperature: 0.3,
		MaxTokens:   4000,
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("translation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("translation API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode translation response: %w", err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return text, nil
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

func (s *TranslationService) Transcribe(ctx context.Context, req TranscribeRequest) (string, float32, error) {
	audioBytes, err := base64.StdEncoding.DecodeString(req.Audio)
	if err != nil {
		return "", 0, fmt.Errorf("failed to decode audio: %w", err)
	}
	if len(audioBytes) == 0 {
		return "", 0, errors.New("audio data is empty")
	}
	if s.speech == nil {
		return "", 0, errors.New("speech recognition disabled")
	}

	if req.Encoding == "" {
		req.Encoding = "WEBM_OPUS"
	}
	if req.SampleRate == 0 {
		req.SampleRate = 48000
	}
	if req.LanguageCode == "" {
		req.LanguageCode = "en-US"
	}
	encoding, err := parseEncoding(req.Encoding)
	if err != nil {
		return "", 0, err
	}

	speechReq := &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   encoding,
			SampleRateHertz:            int32(req.SampleRate),
			LanguageCode:               req.LanguageCode,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audioBytes},
		},
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	resp, err := s.speech.Recognize(timeoutCtx, speechReq)
	if err != nil {
		return "", 0, fmt.Errorf("recognition failed: %w", err)
	}

	var transcript strings.Builder
	var totalConfidence float32
	var count int
	for _, result := range resp.Results {
		if len(result.Alternatives) > 0 {
			alternative := result.Alternatives[0]
			transcript.WriteString(alternative.Transcript)
			transcript.WriteString(" ")
			totalConfidence += alternative.Confidence
			count++
		}
	}
	if count == 0 {
		return "", 0, errors.New("no transcription results")
	}
	return strings.TrimSpace(transcript.String()), totalConfidence / float32(count), nil
}

func parseEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch strings.ToUpper(encoding) {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}

func (s *TranslationService) Close() error {
	if s.speech != nil {
		return s.speech.Close()
	}
	return nil
}
