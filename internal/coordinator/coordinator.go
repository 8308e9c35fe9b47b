// Package coordinator is the single public entry point for delegation.
// Delegate is total: whatever fails underneath, the caller always gets a
// DelegationResult and a stable return code, never a panic or an error.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/conductor/internal/bus"
	"github.com/ShayCichocki/conductor/internal/channel"
	"github.com/ShayCichocki/conductor/internal/contextfilter"
	"github.com/ShayCichocki/conductor/internal/directory"
	"github.com/ShayCichocki/conductor/internal/modedetect"
	"github.com/ShayCichocki/conductor/internal/state"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// maxMetricRecords caps the in-memory metric list for long-running use.
// Older records are dropped; a configured store keeps the full history.
const maxMetricRecords = 1000

// Options configures a Coordinator.
type Options struct {
	// WorkingDir roots mode detection and agent discovery. Defaults to
	// the current directory.
	WorkingDir string
	// Channel executes external-mode delegations. Defaults to the CLI
	// channel rooted at WorkingDir.
	Channel channel.Channel
	// DefaultTimeout bounds local delegations when the caller passes no
	// timeout. Defaults to bus.DefaultTimeout.
	DefaultTimeout time.Duration
	// DefaultPriority is used when options carry no priority.
	DefaultPriority string
	// Store, when non-nil, persists every orchestration metric.
	Store *state.DB
	// DirectoryTTL overrides the agent directory's index TTL.
	DirectoryTTL time.Duration
	// WatchTemplates enables fsnotify invalidation of the agent
	// directory index on template changes.
	WatchTemplates bool
	// Logger receives decision and fallback logging. Defaults to a
	// stderr logger with a "coordinator" prefix.
	Logger *log.Logger
}

// Coordinator composes the mode detector, message bus, context filter
// engine, agent directory, and external channel behind one Delegate call.
// Each instance owns its collaborators; nothing is process-wide.
type Coordinator struct {
	workingDir     string
	defaultTimeout time.Duration
	priority       string

	bus      *bus.MessageBus
	engine   *contextfilter.Engine
	detector *modedetect.Detector
	channel  channel.Channel
	store    *state.DB
	logger   *log.Logger

	dirTTL   time.Duration
	dirWatch bool

	// mu guards dir and metrics. The directory is constructed lazily and
	// a construction failure is never cached: the next call retries.
	mu      sync.Mutex
	dir     *directory.Directory
	metrics []models.OrchestrationMetric
}

// New creates a coordinator. The message bus, filter engine, and mode
// detector are built eagerly; the agent directory is built on first use.
func New(opts Options) *Coordinator {
	if opts.WorkingDir == "" {
		opts.WorkingDir, _ = os.Getwd()
	}
	if opts.Channel == nil {
		opts.Channel = channel.NewCLIChannel(opts.WorkingDir)
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = bus.DefaultTimeout
	}
	if opts.DefaultPriority == "" {
		opts.DefaultPriority = "medium"
	}
	if opts.DirectoryTTL <= 0 {
		opts.DirectoryTTL = directory.DefaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "coordinator: ", log.LstdFlags)
	}

	c := &Coordinator{
		workingDir:     opts.WorkingDir,
		defaultTimeout: opts.DefaultTimeout,
		priority:       opts.DefaultPriority,
		bus:            bus.New(),
		engine:         contextfilter.NewEngine(modedetect.DocumentName),
		detector:       modedetect.New(opts.WorkingDir),
		channel:        opts.Channel,
		store:          opts.Store,
		logger:         opts.Logger,
		dirTTL:         opts.DirectoryTTL,
		dirWatch:       opts.WatchTemplates,
	}
	c.detector.SetAvailabilityProbe(func() error {
		_, err := c.ensureDirectory()
		return err
	})
	return c
}

// ensureDirectory lazily builds the agent directory. Failures are returned
// but never cached, so a later call can succeed once templates appear.
func (c *Coordinator) ensureDirectory() (*directory.Directory, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dir != nil {
		return c.dir, nil
	}
	d, err := directory.New(directory.DefaultRoots(c.workingDir), c.dirTTL)
	if err != nil {
		return nil, fmt.Errorf("agent directory: %w", err)
	}
	if c.dirWatch {
		if err := d.Watch(); err != nil {
			c.logger.Printf("template watch unavailable, using TTL refresh: %v", err)
		}
	}
	c.dir = d
	return d, nil
}

// RegisterHandler installs a local-mode handler for a category.
func (c *Coordinator) RegisterHandler(category string, h bus.Handler) error {
	return c.bus.RegisterHandler(category, h)
}

// UnregisterHandler removes the handler for a category, if any.
func (c *Coordinator) UnregisterHandler(category string) {
	c.bus.UnregisterHandler(category)
}

// RegisterCustomFilter installs or replaces the filter policy for a category.
func (c *Coordinator) RegisterCustomFilter(category string, p *contextfilter.FilterPolicy) error {
	return c.engine.RegisterPolicy(category, p)
}

// SetForceMode forces the execution mode for all subsequent delegations,
// or restores automatic detection when mode is nil.
func (c *Coordinator) SetForceMode(mode *models.Mode) {
	c.detector.SetForceMode(mode)
}

// Engine exposes the coordinator's context filter engine for shared-context
// updates and history queries.
func (c *Coordinator) Engine() *contextfilter.Engine {
	return c.engine
}

// Shutdown releases the bus and directory resources. In-flight delegations
// receive timed-out responses.
func (c *Coordinator) Shutdown() {
	c.bus.Shutdown()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dir != nil {
		c.dir.Close()
		c.dir = nil
	}
}

// Delegate routes one task to the given agent category and returns the
// result plus its stable return code. It never panics and never returns an
// error: every failure is folded into the result.
func (c *Coordinator) Delegate(ctx context.Context, category, description string, opts models.DelegateOptions) (result *models.DelegationResult, code models.ReturnCode) {
	taskID := shortID()
	if opts.Priority == "" {
		opts.Priority = c.priority
	}
	if opts.Timeout <= 0 {
		opts.Timeout = c.defaultTimeout
	}

	defer func() {
		if r := recover(); r != nil {
			result, code = c.terminalFailure(taskID, category, fmt.Sprintf("delegation panic: %v", r), "")
		}
		if result.TaskID == "" {
			result.TaskID = taskID
		}
		if result.Category == "" {
			result.Category = category
		}
		if result.CreatedAt.IsZero() {
			result.CreatedAt = time.Now()
		}
		c.recordMetric(result)
	}()

	decisionStart := time.Now()
	decision := c.detector.Decide()
	decisionTime := time.Since(decisionStart)

	if decision.Mode == models.ModeExternal {
		result, code = c.runExternal(ctx, taskID, category, description, opts, decision.Reason)
		result.Execution.DecisionTime = decisionTime
		return result, code
	}

	result, code, err := c.runLocal(ctx, taskID, category, description, opts)
	if err != nil {
		// Emergency retry: one external attempt before a terminal failure.
		c.logger.Printf("local delegation of %q failed, retrying externally: %v", category, err)
		retry, retryCode := c.runExternal(ctx, taskID, category, description, opts,
			fmt.Sprintf("emergency fallback: %v", err))
		if retry.Success {
			retry.Execution.DecisionTime = decisionTime
			return retry, retryCode
		}
		result, code = c.terminalFailure(taskID, category,
			fmt.Sprintf("local execution failed: %v; external retry failed: %s", err, retry.Error),
			retry.FallbackReason)
	}
	result.Execution.DecisionTime = decisionTime
	return result, code
}

// runLocal executes a delegation over the message bus. A returned error
// means an unexpected failure that should trigger the emergency external
// retry; expected task-level failures come back inside the result.
func (c *Coordinator) runLocal(ctx context.Context, taskID, category, description string, opts models.DelegateOptions) (result *models.DelegationResult, code models.ReturnCode, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, code, err = nil, 0, fmt.Errorf("local execution panic: %v", r)
		}
	}()

	dir, err := c.ensureDirectory()
	if err != nil {
		return nil, 0, err
	}

	template, err := dir.ResolveTemplate(category)
	if errors.Is(err, directory.ErrAgentNotFound) {
		// A missing template is a routine fallback, not an emergency.
		c.logger.Printf("no instruction template for %q, falling back to external", category)
		result, code = c.runExternal(ctx, taskID, category, description, opts, "agent not found")
		if !result.Success && code == models.ReturnGeneralFailure {
			code = models.ReturnAgentNotFound
			result.ReturnCode = code
		}
		return result, code, nil
	}
	if err != nil {
		return nil, 0, err
	}

	directive := channel.BuildDirective(category, description, template, opts)

	full := c.collectContext(category, description)
	filterStart := time.Now()
	originalSize := c.engine.GetContextSizeEstimate(full)
	filtered := c.engine.FilterContextForAgent(category, full)
	filteredSize := c.engine.GetContextSizeEstimate(filtered)
	filterTime := time.Since(filterStart)

	payload := map[string]any{
		"task_id":     taskID,
		"description": description,
		"prompt":      directive,
		"context":     filtered,
	}
	if len(opts.Requirements) > 0 {
		payload["requirements"] = opts.Requirements
	}
	if len(opts.Deliverables) > 0 {
		payload["deliverables"] = opts.Deliverables
	}

	routingStart := time.Now()
	resp, sendErr := c.bus.SendRequest(ctx, category, payload, opts.Timeout, taskID)
	routingTime := time.Since(routingStart)
	if sendErr != nil {
		return nil, 0, sendErr
	}

	code = returnCodeFor(resp)
	result = &models.DelegationResult{
		Success:  resp.Succeeded(),
		TaskID:   taskID,
		Category: category,
		Prompt:   directive,
		Results:  resp.Payload,
		Error:    resp.Error,
		Execution: models.ExecutionInfo{
			Mode:                models.ModeLocal,
			ExecutionTime:       routingTime,
			FilterTime:          filterTime,
			RoutingTime:         routingTime,
			ContextSizeOriginal: originalSize,
			ContextSizeFiltered: filteredSize,
		},
		ReturnCode: code,
		CreatedAt:  time.Now(),
	}

	c.engine.RecordInteraction(taskID, category, originalSize, filteredSize,
		description, interactionOutcome(resp), false)
	return result, code, nil
}

// runExternal hands the delegation to the external channel and normalizes
// its output. It never returns an error; a broken channel yields a failed
// result.
func (c *Coordinator) runExternal(ctx context.Context, taskID, category, description string, opts models.DelegateOptions, fallbackReason string) (result *models.DelegationResult, code models.ReturnCode) {
	defer func() {
		if r := recover(); r != nil {
			result, code = c.terminalFailure(taskID, category,
				fmt.Sprintf("external channel panic: %v", r), fallbackReason)
		}
	}()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := c.channel.Run(ctx, category, description, opts)
	elapsed := time.Since(start)

	if err != nil || res == nil {
		msg := "external channel returned no result"
		if err != nil {
			msg = fmt.Sprintf("external channel: %v", err)
		}
		result = &models.DelegationResult{
			Success:        false,
			TaskID:         taskID,
			Category:       category,
			Error:          msg,
			FallbackReason: fallbackReason,
			Execution: models.ExecutionInfo{
				Mode:          models.ModeExternal,
				ExecutionTime: elapsed,
			},
			ReturnCode: models.ReturnGeneralFailure,
			CreatedAt:  time.Now(),
		}
		return result, models.ReturnGeneralFailure
	}

	res.TaskID = taskID
	res.Category = category
	res.FallbackReason = fallbackReason
	res.Execution.Mode = models.ModeExternal
	if res.Execution.ExecutionTime == 0 {
		res.Execution.ExecutionTime = elapsed
	}
	if !res.Success && res.ReturnCode == models.ReturnSuccess {
		res.ReturnCode = models.ReturnGeneralFailure
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now()
	}
	return res, res.ReturnCode
}

// terminalFailure builds the result returned when both the local path and
// the emergency external retry have failed.
func (c *Coordinator) terminalFailure(taskID, category, errMsg, fallbackReason string) (*models.DelegationResult, models.ReturnCode) {
	return &models.DelegationResult{
		Success:        false,
		TaskID:         taskID,
		Category:       category,
		Error:          errMsg,
		FallbackReason: fallbackReason,
		Execution:      models.ExecutionInfo{Mode: models.ModeExternal},
		ReturnCode:     models.ReturnGeneralFailure,
		CreatedAt:      time.Now(),
	}, models.ReturnGeneralFailure
}

// collectContext gathers the pre-filter context bundle: instruction
// documents at project, parent, and user scope plus minimal project
// metadata. Read errors skip the document; collection never fails.
func (c *Coordinator) collectContext(category, description string) map[string]any {
	files := make(map[string]string)
	for _, dir := range instructionDocDirs(c.workingDir) {
		p := filepath.Join(dir, modedetect.DocumentName)
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		files[p] = string(data)
	}

	return map[string]any{
		"working_directory": c.workingDir,
		"project_name":      filepath.Base(c.workingDir),
		"timestamp":         time.Now().Format(time.RFC3339),
		"current_task":      description,
		"agent_category":    category,
		"files":             files,
	}
}

// instructionDocDirs returns the directories searched for instruction
// documents: the working directory, its parent, and the user scope.
func instructionDocDirs(workingDir string) []string {
	dirs := []string{workingDir}
	if parent := filepath.Dir(workingDir); parent != workingDir {
		dirs = append(dirs, parent)
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".conductor"))
	}
	return dirs
}

// returnCodeFor maps a bus response status to a return code. Failed
// responses are narrowed by error-text signature when the failing layer
// identifies itself.
func returnCodeFor(resp *models.Response) models.ReturnCode {
	switch resp.Status {
	case models.StatusCompleted:
		return models.ReturnSuccess
	case models.StatusTimedOut:
		return models.ReturnTimeout
	default:
		return classifyFailure(resp.Error)
	}
}

// classifyFailure narrows a failure message to a layer-specific return
// code when the text carries a known signature.
func classifyFailure(errText string) models.ReturnCode {
	lower := strings.ToLower(errText)
	switch {
	case strings.Contains(lower, "bus:") || strings.Contains(lower, "message bus"):
		return models.ReturnMessageBusError
	case strings.Contains(lower, "context filter") || strings.Contains(lower, "filter:"):
		return models.ReturnContextFilteringError
	default:
		return models.ReturnGeneralFailure
	}
}

func interactionOutcome(resp *models.Response) string {
	if resp.Succeeded() {
		return "completed"
	}
	return resp.Error
}

func shortID() string {
	return uuid.NewString()[:8]
}
