package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// =============================================================================
// AUDIT EVENT TYPES
// =============================================================================

// AuditEventType names one kind of workflow audit event.
type AuditEventType string

const (
	AuditRunStart       AuditEventType = "run_start"
	AuditRunEnd         AuditEventType = "run_end"
	AuditStep           AuditEventType = "step"
	AuditBrowserLaunch  AuditEventType = "browser_launch"
	AuditBrowserRestart AuditEventType = "browser_restart"
	AuditLoginEscalate  AuditEventType = "login_escalate"
	AuditCaptureTimeout AuditEventType = "capture_timeout"
	AuditPublish        AuditEventType = "publish"
)

// AuditEvent is one JSON line in <logs>/<date>_audit.jsonl.
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"`
	EventType  AuditEventType         `json:"event"`
	RunID      string                 `json:"run,omitempty"`
	Workflow   string                 `json:"workflow,omitempty"`
	Account    string                 `json:"account,omitempty"`
	Step       string                 `json:"step,omitempty"`
	Target     string                 `json:"target,omitempty"`
	Success    bool                   `json:"success"`
	DurationMs int64                  `json:"dur_ms,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

var (
	auditFile *os.File
	auditMu   sync.Mutex
)

// AuditLogger writes audit events scoped to one run.
type AuditLogger struct {
	runID    string
	workflow string
	account  string
}

// Audit returns an audit logger for a workflow run.
func Audit(runID, workflow, account string) *AuditLogger {
	return &AuditLogger{runID: runID, workflow: workflow, account: account}
}

func openAudit() error {
	if auditFile != nil {
		return nil
	}
	configMu.RLock()
	dir := logsDir
	configMu.RUnlock()

	date := time.Now().Format("2006-01-02")
	path := filepath.Join(dir, fmt.Sprintf("%s_audit.jsonl", date))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file
	return nil
}

func closeAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Log writes an audit event. No-op unless debug mode is on.
func (a *AuditLogger) Log(event AuditEvent) {
	if !IsDebugMode() {
		return
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.RunID == "" {
		event.RunID = a.runID
	}
	if event.Workflow == "" {
		event.Workflow = a.workflow
	}
	if event.Account == "" {
		event.Account = a.account
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	auditMu.Lock()
	defer auditMu.Unlock()
	if err := openAudit(); err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: %v\n", err)
		return
	}
	auditFile.Write(append(data, '\n'))
}

// RunStart records the start of a run.
func (a *AuditLogger) RunStart() {
	a.Log(AuditEvent{EventType: AuditRunStart, Success: true})
}

// RunEnd records the outcome of a run.
func (a *AuditLogger) RunEnd(status string, elapsed time.Duration, err error) {
	ev := AuditEvent{
		EventType:  AuditRunEnd,
		Success:    err == nil,
		DurationMs: elapsed.Milliseconds(),
		Fields:     map[string]interface{}{"status": status},
	}
	if err != nil {
		ev.Error = err.Error()
	}
	a.Log(ev)
}

// Step records one automation step.
func (a *AuditLogger) Step(step, target string, elapsed time.Duration, err error) {
	ev := AuditEvent{
		EventType:  AuditStep,
		Step:       step,
		Target:     target,
		Success:    err == nil,
		DurationMs: elapsed.Milliseconds(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	a.Log(ev)
}

// Browser records a launch or restart of the managed browser.
func (a *AuditLogger) Browser(eventType AuditEventType, pid int, headless bool) {
	a.Log(AuditEvent{
		EventType: eventType,
		Success:   true,
		Fields:    map[string]interface{}{"pid": pid, "headless": headless},
	})
}

// CaptureTimeout records a capture that ended without a matching response.
func (a *AuditLogger) CaptureTimeout(pattern string, waited time.Duration) {
	a.Log(AuditEvent{
		EventType:  AuditCaptureTimeout,
		Target:     pattern,
		DurationMs: waited.Milliseconds(),
	})
}

// LoginEscalate records a switch to a windowed browser for manual login.
func (a *AuditLogger) LoginEscalate(loginURL string) {
	a.Log(AuditEvent{EventType: AuditLoginEscalate, Target: loginURL, Success: true})
}

// Publish records the outcome of a publish click.
func (a *AuditLogger) Publish(digest, noteURL string, verified bool) {
	a.Log(AuditEvent{
		EventType: AuditPublish,
		Target:    noteURL,
		Success:   verified,
		Fields:    map[string]interface{}{"digest": digest},
	})
}
