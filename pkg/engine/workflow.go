package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openfroyo/wslprov/pkg/config"
	"github.com/openfroyo/wslprov/pkg/dotfiles"
	"github.com/openfroyo/wslprov/pkg/guest"
	"github.com/openfroyo/wslprov/pkg/lifecycle"
	"github.com/openfroyo/wslprov/pkg/pkgmgr"
	"github.com/openfroyo/wslprov/pkg/policy"
	"github.com/openfroyo/wslprov/pkg/prompt"
	"github.com/openfroyo/wslprov/pkg/telemetry"
	"github.com/rs/zerolog/log"
)

// Step names as they appear in events, spans and reports.
const (
	StepAdmit            = "admit"
	StepCheckEnvironment = "check-environment"
	StepEnsureFeatures   = "ensure-features"
	StepInstall          = "install"
	StepWait             = "wait"
	StepPlan             = "plan"
	StepPackages         = "packages"
	StepCreateUser       = "create-user"
	StepGrant            = "grant-privileges"
	StepVerify           = "verify"
	StepRestart          = "restart"
	StepVerifySudo       = "verify-sudo"
	StepNetwork          = "network"
	StepDotfiles         = "dotfiles"
)

const source = "engine"

// Workflow runs one provisioning pass over a single environment. A
// Workflow is used for one run only.
type Workflow struct {
	cfg       config.WorkflowConfig
	runID     string
	publisher *telemetry.EventPublisher
	journal   Journal
	admission Admission
	tracer    *telemetry.Tracer
	metrics   *telemetry.Metrics
	actor     string
	now       func() time.Time

	mu     sync.Mutex
	stage  Stage
	report *Report
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithPublisher delivers run events to pub.
func WithPublisher(pub *telemetry.EventPublisher) Option {
	return func(w *Workflow) { w.publisher = pub }
}

// WithJournal records the run, its events and observed facts.
func WithJournal(j Journal) Option {
	return func(w *Workflow) { w.journal = j }
}

// WithAdmission evaluates a before the run changes anything.
func WithAdmission(a Admission) Option {
	return func(w *Workflow) { w.admission = a }
}

// WithTracer wraps the run and each step in spans.
func WithTracer(t *telemetry.Tracer) Option {
	return func(w *Workflow) { w.tracer = t }
}

// WithMetrics records the run outcome.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(w *Workflow) { w.metrics = m }
}

// WithRunID overrides the generated run ID.
func WithRunID(id string) Option {
	return func(w *Workflow) { w.runID = id }
}

// WithActor names who started the run in audit entries.
func WithActor(actor string) Option {
	return func(w *Workflow) { w.actor = actor }
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// New creates a workflow for cfg. cfg is copied and never changes
// afterwards.
func New(cfg config.WorkflowConfig, opts ...Option) *Workflow {
	w := &Workflow{
		cfg:   cfg.Clone(),
		runID: uuid.New().String(),
		actor: "wslprov",
		now:   time.Now,
		stage: StageStart,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.publisher == nil {
		w.publisher = telemetry.NewEventPublisher(telemetry.EventsConfig{})
	}
	if w.tracer == nil {
		w.tracer = telemetry.NoopTracer()
	}
	return w
}

// RunID returns the ID stamped on every event of this run.
func (w *Workflow) RunID() string {
	return w.runID
}

// Sink returns the status sink components publish through. Events are
// stamped with the run ID and current stage before delivery.
func (w *Workflow) Sink() telemetry.Sink {
	return telemetry.SinkFunc(w.publish)
}

// Run executes the flow selected by the configuration.
func (w *Workflow) Run(ctx context.Context, c Components) (*Report, error) {
	if w.cfg.Fresh {
		return w.Fresh(ctx, c)
	}
	return w.Converge(ctx, c)
}

// Fresh destroys any environment with the configured name, installs it
// from the image and runs every provisioning step.
func (w *Workflow) Fresh(ctx context.Context, c Components) (*Report, error) {
	return w.run(ctx, ModeFresh, c, w.fresh)
}

// Converge repairs an existing environment, performing only the steps its
// current state requires. It never creates an environment.
func (w *Workflow) Converge(ctx context.Context, c Components) (*Report, error) {
	return w.run(ctx, ModeConverge, c, w.converge)
}

func (w *Workflow) run(ctx context.Context, mode Mode, c Components, flow func(context.Context, Components) error) (*Report, error) {
	if c.Prompter == nil {
		c.Prompter = prompt.Defaults{}
	}

	started := w.now()
	w.report = &Report{
		RunID:     w.runID,
		Distro:    w.cfg.Name,
		Username:  w.cfg.Username,
		Mode:      mode,
		Stage:     StageStart,
		Stages:    []StageRecord{{Stage: StageStart, At: started}},
		StartedAt: started,
	}

	ctx, span := w.tracer.StartRun(ctx, w.runID, w.cfg.Name, string(mode))

	log.Info().
		Str("run_id", w.runID).
		Str("distro", w.cfg.Name).
		Str("mode", string(mode)).
		Msg("Starting provisioning run")

	w.openRun(ctx, mode)
	w.emit(telemetry.Event{
		Type:    telemetry.EventTypeRunStarted,
		Message: fmt.Sprintf("%s run of %s started", mode, w.cfg.Name),
		Data: map[string]interface{}{
			"mode":     string(mode),
			"image":    w.cfg.Image,
			"username": w.cfg.Username,
		},
	})

	err := w.admit(ctx)
	if err == nil {
		err = flow(ctx, c)
	}
	if err == nil {
		w.reach(ctx, StageDone)
	}

	w.finish(ctx, mode, err)
	telemetry.EndSpan(span, err)
	return w.report, err
}

func (w *Workflow) fresh(ctx context.Context, c Components) error {
	if err := w.step(ctx, StepEnsureFeatures, c.Lifecycle.EnsureFeatures); err != nil {
		return err
	}
	w.reach(ctx, StageFeaturesReady)

	err := w.step(ctx, StepInstall, func(ctx context.Context) error {
		return c.Lifecycle.Install(ctx, w.cfg.Image, w.cfg.Name)
	})
	if err != nil {
		return err
	}
	w.audit(ctx, "distro.installed", map[string]interface{}{"image": w.cfg.Image})

	if err := w.step(ctx, StepWait, w.waitReady(c)); err != nil {
		return err
	}
	w.reach(ctx, StageEnvironmentReady)

	plan := FreshPlan()
	w.report.Plan = &plan
	return w.tail(ctx, c, plan)
}

func (w *Workflow) converge(ctx context.Context, c Components) error {
	name := w.cfg.Name

	// Nothing may change before existence is established.
	err := w.step(ctx, StepCheckEnvironment, func(ctx context.Context) error {
		if !c.Probe.EnvironmentExists(ctx, name) {
			return fatal(name, "converge", guest.ErrCodeNotFound,
				fmt.Sprintf("environment %s does not exist; run with --fresh to create it", name), nil)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := w.step(ctx, StepEnsureFeatures, c.Lifecycle.EnsureFeatures); err != nil {
		return err
	}
	w.reach(ctx, StageFeaturesReady)

	if err := w.step(ctx, StepWait, w.waitReady(c)); err != nil {
		return err
	}
	w.reach(ctx, StageEnvironmentReady)

	var plan Plan
	err = w.step(ctx, StepPlan, func(ctx context.Context) error {
		status := c.Packages.CheckStatus(ctx, name, w.cfg.Username, w.cfg.Packages)
		plan = PlanConverge(status, c.Probe.UserExists(ctx, name, w.cfg.Username))

		log.Info().
			Str("distro", name).
			Str("packages", string(plan.Packages)).
			Strs("missing", plan.Missing).
			Bool("create_user", plan.CreateUser).
			Bool("grant", plan.Grant).
			Msg("Converge plan computed")
		return nil
	})
	if err != nil {
		return err
	}
	w.report.Plan = &plan

	return w.tail(ctx, c, plan)
}

// tail is shared by both flows: packages, user, verification, restart,
// network and dotfiles.
func (w *Workflow) tail(ctx context.Context, c Components, plan Plan) error {
	name, username := w.cfg.Name, w.cfg.Username

	var err error
	switch plan.Packages {
	case PackagesInitialize:
		err = w.step(ctx, StepPackages, func(ctx context.Context) error {
			res, err := c.Packages.Initialize(ctx, name, w.cfg.Packages)
			w.absorbPackages(res)
			return err
		})
	case PackagesTopUp:
		err = w.step(ctx, StepPackages, func(ctx context.Context) error {
			res, err := c.Packages.InstallPackages(ctx, name, w.cfg.Packages)
			w.absorbPackages(res)
			return err
		})
	default:
		w.skip(ctx, StepPackages, "all required packages present")
	}
	if err != nil {
		return err
	}
	w.reach(ctx, StagePackageManagerReady)

	if plan.CreateUser {
		err := w.step(ctx, StepCreateUser, func(ctx context.Context) error {
			return c.Users.CreateUser(ctx, name, username)
		})
		if err != nil {
			return err
		}
	} else {
		w.skip(ctx, StepCreateUser, "user exists")
	}

	sudoVerified := true
	if plan.Grant {
		err := w.step(ctx, StepGrant, func(ctx context.Context) error {
			res, err := c.Users.GrantAdministrativePrivileges(ctx, name, username)
			w.report.Grant = res
			sudoVerified = res != nil && res.SudoVerified
			if res != nil {
				w.warnAll(ctx, res.Warnings)
			}
			return err
		})
		if err != nil {
			return err
		}
	} else {
		w.skip(ctx, StepGrant, "passwordless sudo available")
	}
	w.reach(ctx, StageUserReady)

	_ = w.step(ctx, StepVerify, func(ctx context.Context) error {
		v := c.Users.VerifyConfiguration(ctx, name, username)
		account := v.Account
		w.report.Account = &account
		for _, problem := range v.Problems {
			w.advise(ctx, problem)
		}
		w.saveFact(ctx, "account", username, account)
		return nil
	})

	if plan.Restart {
		err := w.step(ctx, StepRestart, func(ctx context.Context) error {
			if err := c.Lifecycle.Terminate(ctx, name); err != nil {
				w.warn(ctx, recoverable(name, "terminate", guest.ErrCodeNotReady, "failed to terminate environment", err))
			}
			if err := w.waitReady(c)(ctx); err != nil {
				return err
			}
			w.report.Restarted = true
			return nil
		})
		if err != nil {
			return err
		}
	} else {
		w.skip(ctx, StepRestart, "no boot configuration changed")
	}

	if plan.Grant && !sudoVerified {
		_ = w.step(ctx, StepVerifySudo, func(ctx context.Context) error {
			if c.Probe.UserHasPasswordlessSudo(ctx, name, username) {
				log.Info().Str("distro", name).Str("user", username).Msg("Passwordless sudo effective after restart")
				if w.report.Account != nil {
					w.report.Account.PasswordlessSudo = true
				}
				return nil
			}
			return recoverable(name, "verify-sudo", guest.ErrCodePrivileges,
				"passwordless sudo still unavailable after restart", nil)
		})
	}

	if w.cfg.Network.Enabled && c.Network != nil {
		configured := false
		_ = w.step(ctx, StepNetwork, func(ctx context.Context) error {
			res := c.Network.Configure(ctx, name)
			w.warnAll(ctx, res.Warnings)
			if res.Config.ForwardingSet {
				cfg := res.Config
				w.report.Network = &cfg
				w.saveFact(ctx, "network", "access", cfg)
				configured = true
			}
			return nil
		})
		if configured {
			w.reach(ctx, StageNetworkConfigured)
		}
	} else {
		w.skip(ctx, StepNetwork, "disabled")
	}

	if w.cfg.Dotfiles.Enabled && c.Dotfiles != nil {
		err := w.step(ctx, StepDotfiles, func(ctx context.Context) error {
			return w.bootstrapDotfiles(ctx, c)
		})
		if err != nil {
			return err
		}
		w.reach(ctx, StageDotfilesConfigured)
	} else {
		w.skip(ctx, StepDotfiles, "disabled")
	}

	return nil
}

// admit evaluates the admission policies. Blocking violations stop the
// run before any command reaches the host; the rest become warnings.
func (w *Workflow) admit(ctx context.Context) error {
	if w.admission == nil {
		return nil
	}
	return w.step(ctx, StepAdmit, func(ctx context.Context) error {
		res, err := w.admission.Evaluate(ctx, policy.InputFor(w.cfg, w.actor))
		if err != nil {
			return recoverable(w.cfg.Name, StepAdmit, guest.ErrCodeValidation, "policy evaluation failed", err)
		}

		for _, v := range res.Warnings {
			w.warn(ctx, recoverable(w.cfg.Name, StepAdmit, guest.ErrCodeValidation, v.String(), nil))
		}
		if res.Allowed {
			return nil
		}

		msgs := make([]string, 0, len(res.Violations))
		for _, v := range res.Violations {
			msgs = append(msgs, v.String())
		}
		return fatal(w.cfg.Name, StepAdmit, guest.ErrCodeValidation,
			"run rejected by policy: "+strings.Join(msgs, "; "), nil)
	})
}

// waitReady returns a step body that waits with the configured policy and
// fails when the environment never becomes ready.
func (w *Workflow) waitReady(c Components) func(context.Context) error {
	return func(ctx context.Context) error {
		policy := lifecycle.WaitPolicy{
			MaxAttempts:  w.cfg.Wait.MaxAttempts,
			Delay:        w.cfg.Wait.Delay,
			InitialGrace: w.cfg.Wait.InitialGrace,
		}
		res, err := c.Lifecycle.WaitUntilReady(ctx, w.cfg.Name, policy)
		if err != nil {
			return err
		}
		if !res.Ready {
			return fatal(w.cfg.Name, "wait", guest.ErrCodeNotReady,
				fmt.Sprintf("environment did not become ready after %d attempts", res.Attempts), nil)
		}
		return nil
	}
}

// bootstrapDotfiles applies dotfiles and asks the operator what to do when
// the result cannot be verified. Retry is honored once.
func (w *Workflow) bootstrapDotfiles(ctx context.Context, c Components) error {
	req := dotfiles.Request{
		Distro:   w.cfg.Name,
		Username: w.cfg.Username,
		Repo:     w.cfg.Dotfiles.Repo,
		Identity: dotfiles.Identity{Name: w.cfg.Dotfiles.Name, Email: w.cfg.Dotfiles.Email},
	}

	retried := false
	for {
		if err := c.Dotfiles.Bootstrap(ctx, req); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Str("distro", req.Distro).Str("user", req.Username).Msg("Dotfile bootstrap failed")
		}

		if c.Dotfiles.Verify(ctx, req) {
			w.report.DotfilesVerified = true
			log.Info().Str("distro", req.Distro).Str("user", req.Username).Msg("Dotfiles verified")
			return nil
		}

		policy, err := c.Prompter.ChooseVerificationPolicy(ctx,
			fmt.Sprintf("Dotfiles for %s in %s could not be verified", req.Username, req.Distro))
		if err != nil {
			return fatal(req.Distro, "dotfiles", guest.ErrCodeAborted, "dotfile verification prompt failed", err)
		}

		switch policy {
		case prompt.PolicyRetry:
			if !retried {
				retried = true
				log.Info().Str("distro", req.Distro).Msg("Retrying dotfile bootstrap")
				continue
			}
			log.Warn().Str("distro", req.Distro).Msg("Dotfile bootstrap already retried")
			fallthrough
		case prompt.PolicyProceed:
			w.warn(ctx, recoverable(req.Distro, "dotfiles", guest.ErrCodeDotfiles,
				"proceeding without dotfile verification", nil))
			return nil
		default:
			return fatal(req.Distro, "dotfiles", guest.ErrCodeAborted,
				"aborted after dotfile verification failed", nil)
		}
	}
}

// step runs fn as a named step. Recoverable errors become warnings; any
// other error stops the run.
func (w *Workflow) step(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return &StepError{Stage: w.currentStage(), Step: name, Err: err}
	}

	stepCtx, span := w.tracer.StartStep(ctx, w.runID, w.cfg.Name, name)
	start := time.Now()
	warningsBefore := len(w.report.Warnings)

	w.emit(telemetry.Event{
		Type:    telemetry.EventTypeStepStarted,
		Message: name,
		Data:    map[string]interface{}{"step": name},
	})

	err := fn(stepCtx)
	if err != nil && (guest.IsRecoverable(err) || guest.IsAdvisory(err)) {
		w.warn(ctx, err)
		err = nil
	}

	outcome := StepOK
	level := telemetry.EventLevelInfo
	switch {
	case err != nil:
		outcome = StepFailed
		level = telemetry.EventLevelError
	case len(w.report.Warnings) > warningsBefore:
		outcome = StepWarning
		level = telemetry.EventLevelWarning
	}

	telemetry.EndSpan(span, err)
	elapsed := time.Since(start)
	w.report.Steps = append(w.report.Steps, StepRecord{Name: name, Outcome: outcome, Duration: elapsed})

	w.emit(telemetry.Event{
		Type:    telemetry.EventTypeStepCompleted,
		Level:   level,
		Message: fmt.Sprintf("%s %s", name, outcome),
		Data: map[string]interface{}{
			"step":             name,
			"outcome":          string(outcome),
			"duration_seconds": elapsed.Seconds(),
		},
	})

	if err != nil {
		return &StepError{Stage: w.currentStage(), Step: name, Err: err}
	}
	return nil
}

func (w *Workflow) skip(ctx context.Context, name, reason string) {
	w.report.Steps = append(w.report.Steps, StepRecord{Name: name, Outcome: StepSkipped, Reason: reason})
	log.Debug().Str("step", name).Str("reason", reason).Msg("Step skipped")
	w.emit(telemetry.Event{
		Type:    telemetry.EventTypeStepSkipped,
		Message: fmt.Sprintf("%s skipped: %s", name, reason),
		Data:    map[string]interface{}{"step": name, "reason": reason},
	})
}

func (w *Workflow) reach(ctx context.Context, s Stage) {
	w.mu.Lock()
	w.stage = s
	w.mu.Unlock()

	w.report.Stage = s
	w.report.Stages = append(w.report.Stages, StageRecord{Stage: s, At: w.now()})

	log.Info().Str("distro", w.cfg.Name).Str("stage", string(s)).Msg("Stage reached")
	w.emit(telemetry.Event{
		Type:    telemetry.EventTypeStageReached,
		Message: fmt.Sprintf("reached %s", s),
	})
	w.updateRun(ctx, statusRunning)
}

func (w *Workflow) warn(ctx context.Context, err error) {
	stage := w.currentStage()
	w.report.Warnings = append(w.report.Warnings, Warning{
		Stage:   stage,
		Code:    guest.CodeOf(err),
		Message: err.Error(),
	})

	log.Warn().Err(err).Str("distro", w.cfg.Name).Str("stage", string(stage)).Msg("Continuing after recoverable failure")
	w.emit(telemetry.Event{
		Type:    telemetry.EventTypeWarning,
		Level:   telemetry.EventLevelWarning,
		Message: err.Error(),
		Data:    map[string]interface{}{"code": guest.CodeOf(err)},
	})
}

func (w *Workflow) warnAll(ctx context.Context, errs []error) {
	for _, err := range errs {
		w.warn(ctx, err)
	}
}

func (w *Workflow) advise(ctx context.Context, msg string) {
	w.report.Advisories = append(w.report.Advisories, msg)
	w.emit(telemetry.Event{
		Type:    telemetry.EventTypeAdvisory,
		Level:   telemetry.EventLevelWarning,
		Message: msg,
	})
}

func (w *Workflow) absorbPackages(res *pkgmgr.InitResult) {
	if res == nil {
		return
	}
	w.report.Packages = res
	w.warnAll(context.Background(), res.Warnings)
}

func (w *Workflow) finish(ctx context.Context, mode Mode, err error) {
	w.report.FinishedAt = w.now()

	status := statusCompleted
	event := telemetry.Event{
		Type:    telemetry.EventTypeRunCompleted,
		Message: fmt.Sprintf("%s run of %s completed with %d warning(s)", mode, w.cfg.Name, len(w.report.Warnings)),
	}
	if err != nil {
		w.report.Error = err.Error()
		status = statusFailed
		if errors.Is(err, context.Canceled) {
			status = statusCancelled
		}
		event = telemetry.Event{
			Type:    telemetry.EventTypeRunFailed,
			Level:   telemetry.EventLevelError,
			Message: err.Error(),
			Data:    map[string]interface{}{"code": guest.CodeOf(err)},
		}
		log.Error().Err(err).Str("distro", w.cfg.Name).Str("stage", string(w.currentStage())).Msg("Provisioning run failed")
	} else {
		log.Info().
			Str("distro", w.cfg.Name).
			Int("warnings", len(w.report.Warnings)).
			Dur("duration", w.report.Duration()).
			Msg("Provisioning run completed")
	}

	w.emit(event)
	w.updateRun(ctx, status)

	if w.metrics != nil {
		w.metrics.RecordRun(string(mode), string(status), w.report.Duration())
	}
}

func (w *Workflow) currentStage() Stage {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stage
}

// emit publishes an engine event through the run sink.
func (w *Workflow) emit(event telemetry.Event) {
	event.Source = source
	_ = w.publish(event)
}

func (w *Workflow) publish(event telemetry.Event) error {
	event.RunID = w.runID
	if event.Distro == "" {
		event.Distro = w.cfg.Name
	}
	if event.Stage == "" {
		event.Stage = string(w.currentStage())
	}
	if event.Level == "" {
		event.Level = telemetry.EventLevelInfo
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = w.now()
	}

	if err := w.publisher.Publish(event); err != nil {
		return err
	}
	w.journalEvent(event)
	return nil
}
