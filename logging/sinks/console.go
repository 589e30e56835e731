package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/ttacon/chalk"

	"arena-sync/logging"
)

// Console renders events as single human readable lines.
type Console struct {
	logger   *log.Logger
	useColor bool
}

func NewConsole(w io.Writer, cfg logging.ConsoleConfig) *Console {
	if w == nil {
		w = io.Discard
	}
	return &Console{logger: log.New(w, "", log.LstdFlags), useColor: cfg.UseColor}
}

func (s *Console) Write(event logging.Event) error {
	if s.logger == nil {
		return nil
	}
	payload := formatPayload(event.Payload)
	targets := formatTargets(event.Targets)
	extra := formatExtra(event.Extra)
	s.logger.Printf("[%s] tick=%d actor=%s severity=%s%s%s%s", event.Type, event.Tick, formatEntity(event.Actor), s.severity(event.Severity), targets, payload, extra)
	return nil
}

func (s *Console) Close(context.Context) error {
	return nil
}

func (s *Console) severity(sev logging.Severity) string {
	label := sev.String()
	if !s.useColor {
		return label
	}
	switch sev {
	case logging.SeverityDebug:
		return chalk.Cyan.Color(label)
	case logging.SeverityWarn:
		return chalk.Yellow.Color(label)
	case logging.SeverityError:
		return chalk.Red.Color(label)
	default:
		return chalk.Green.Color(label)
	}
}

func formatEntity(ref logging.EntityRef) string {
	if ref.ID == "" {
		return string(ref.Kind)
	}
	if ref.Kind == "" {
		return ref.ID
	}
	return fmt.Sprintf("%s:%s", ref.Kind, ref.ID)
}

func formatTargets(targets []logging.EntityRef) string {
	if len(targets) == 0 {
		return ""
	}
	parts := make([]string, 0, len(targets))
	for _, target := range targets {
		parts = append(parts, formatEntity(target))
	}
	return fmt.Sprintf(" targets=%s", strings.Join(parts, ","))
}

func formatPayload(payload any) string {
	if payload == nil {
		return ""
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(" payload=%v", payload)
	}
	return fmt.Sprintf(" payload=%s", data)
}

func formatExtra(extra map[string]any) string {
	if len(extra) == 0 {
		return ""
	}
	data, err := json.Marshal(extra)
	if err != nil {
		return ""
	}
	return fmt.Sprintf(" extra=%s", data)
}
