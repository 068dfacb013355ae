package email

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// DevSender writes each message as a JSON file instead of sending it.
type DevSender struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

// NewDevSender creates a sender that stores messages under dir.
func NewDevSender(dir string, logger *slog.Logger) *DevSender {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &DevSender{dir: dir, logger: logger, now: time.Now}
}

type devMessage struct {
	Timestamp string         `json:"timestamp"`
	SendTo    string         `json:"send_to"`
	Template  string         `json:"template"`
	Tag       string         `json:"tag,omitempty"`
	Model     map[string]any `json:"model,omitempty"`
}

func (d *DevSender) SendTemplate(ctx context.Context, params TemplateParams) error {
	if err := params.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("%w: create directory: %w", ErrFailedToSendEmail, err)
	}

	now := d.now()
	data, err := json.MarshalIndent(devMessage{
		Timestamp: now.Format(time.RFC3339),
		SendTo:    params.SendTo,
		Template:  params.Template,
		Tag:       params.Tag,
		Model:     params.Model,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode message: %w", ErrFailedToSendEmail, err)
	}

	name := fmt.Sprintf("%s_%s_%d.json", now.Format("2006_01_02_150405"), sanitizeFilename(params.Template), now.Nanosecond())
	path := filepath.Join(d.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: write message: %w", ErrFailedToSendEmail, err)
	}

	d.logger.InfoContext(ctx, "email stored", "template", params.Template, "path", path)
	return nil
}

var sanitizeRegex = regexp.MustCompile(`[^a-zA-Z0-9\-_.]`)

func sanitizeFilename(s string) string {
	s = sanitizeRegex.ReplaceAllString(strings.ReplaceAll(s, " ", "_"), "")
	const maxLength = 100
	if len(s) > maxLength {
		s = s[:maxLength]
	}
	if s == "" {
		s = "email"
	}
	return strings.ToLower(s)
}
