// Package docai wraps the external document-understanding tools: an OCR
// engine for prescription images and a summarizer for clinical documents.
// Both run as configured commands that receive the document as a file path.
package docai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

var ErrNotConfigured = errors.New("document tool not configured")

// waitDelay bounds how long a killed command may hold its output pipes open.
const waitDelay = 2 * time.Second

// Document is a file handed to an external tool.
type Document struct {
	FileName    string
	ContentType string
	Data        []byte
}

type OCR interface {
	ExtractText(ctx context.Context, doc Document) (string, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, doc Document) (string, error)
}

// Command is an executable plus leading arguments. The document path is
// appended as the final argument.
type Command struct {
	Path string
	Args []string
}

// ParseCommand splits a configured command line on whitespace.
func ParseCommand(line string) (Command, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, false
	}
	return Command{Path: fields[0], Args: fields[1:]}, true
}

func (c Command) run(ctx context.Context, doc Document) ([]byte, error) {
	ext := filepath.Ext(doc.FileName)
	f, err := os.CreateTemp("", "medrecords-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("stage document: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(doc.Data); err != nil {
		f.Close()
		return nil, fmt.Errorf("stage document: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("stage document: %w", err)
	}

	args := append(append([]string{}, c.Args...), f.Name())
	cmd := exec.CommandContext(ctx, c.Path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("%s: %w", filepath.Base(c.Path), err)
		}
		return nil, fmt.Errorf("%s: %w: %s", filepath.Base(c.Path), err, msg)
	}
	return stdout.Bytes(), nil
}

// ocrResult is the JSON document printed by the OCR command.
type ocrResult struct {
	Success       bool   `json:"success"`
	ExtractedText string `json:"extracted_text"`
	Error         string `json:"error"`
}

// CommandOCR runs an OCR command that prints an ocrResult on stdout.
type CommandOCR struct {
	cmd Command
}

func NewCommandOCR(cmd Command) *CommandOCR {
	return &CommandOCR{cmd: cmd}
}

func (o *CommandOCR) ExtractText(ctx context.Context, doc Document) (string, error) {
	out, err := o.cmd.run(ctx, doc)
	if err != nil {
		return "", err
	}
	var res ocrResult
	if err := json.Unmarshal(bytes.TrimSpace(out), &res); err != nil {
		return "", fmt.Errorf("parse OCR output: %w", err)
	}
	if !res.Success {
		if res.Error == "" {
			res.Error = "OCR reported failure"
		}
		return "", errors.New(res.Error)
	}
	return res.ExtractedText, nil
}

// CommandSummarizer runs a summarizer command that prints the summary on stdout.
type CommandSummarizer struct {
	cmd Command
}

func NewCommandSummarizer(cmd Command) *CommandSummarizer {
	return &CommandSummarizer{cmd: cmd}
}

func (s *CommandSummarizer) Summarize(ctx context.Context, doc Document) (string, error) {
	out, err := s.cmd.run(ctx, doc)
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(string(out))
	if summary == "" {
		return "", errors.New("summarizer produced no output")
	}
	return summary, nil
}

// Disabled satisfies OCR and Summarizer when no command is configured.
type Disabled struct{}

func (Disabled) ExtractText(context.Context, Document) (string, error) {
	return "", ErrNotConfigured
}

func (Disabled) Summarize(context.Context, Document) (string, error) {
	return "", ErrNotConfigured
}
