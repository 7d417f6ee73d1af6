package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/kaiwa-ai/kaiwa/internal/domain/agent"
	"github.com/kaiwa-ai/kaiwa/internal/domain/interview"
	"github.com/kaiwa-ai/kaiwa/internal/infra/eventbus"
	"github.com/kaiwa-ai/kaiwa/internal/infra/llm"
	"github.com/kaiwa-ai/kaiwa/pkg/auth"
)

// subprotocolPrefix is the websocket subprotocol alternative to ?token=.
const subprotocolPrefix = "access_token."

const writeTimeout = 10 * time.Second

// ProviderFactory builds one provider instance per session.
type ProviderFactory func() (llm.Provider, error)

// Handler upgrades interview stream requests and runs the session loop.
type Handler struct {
	registry   *Registry
	interviews interview.InterviewRepo
	tasks      interview.TaskRepo
	templates  interview.TemplateRepo
	users      interview.UserRepo
	verifier   *auth.Verifier
	provider   ProviderFactory
	bus        eventbus.EventBus
	log        *slog.Logger

	now func() time.Time
}

// NewHandler wires the session handler's collaborators.
func NewHandler(
	registry *Registry,
	interviews interview.InterviewRepo,
	tasks interview.TaskRepo,
	templates interview.TemplateRepo,
	users interview.UserRepo,
	verifier *auth.Verifier,
	provider ProviderFactory,
	bus eventbus.EventBus,
	log *slog.Logger,
) *Handler {
	return &Handler{
		registry:   registry,
		interviews: interviews,
		tasks:      tasks,
		templates:  templates,
		users:      users,
		verifier:   verifier,
		provider:   provider,
		bus:        bus,
		log:        log,
		now:        time.Now,
	}
}

// ServeHTTP runs one interview session: authenticate, admit, prime,
// bootstrap, main loop, teardown.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	interviewID := chi.URLParam(r, "interview_id")
	token, fromSubprotocol := bearerToken(r)

	opts := &websocket.AcceptOptions{}
	if fromSubprotocol {
		// Echo the credential-bearing subprotocol so strict clients
		// complete the handshake.
		opts.Subprotocols = []string{subprotocolPrefix + token}
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		h.log.Warn("websocket accept failed", "interview_id", interviewID, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Authenticate. A refresh token, bad signature, expiry, or unknown
	// subject all close with the same code.
	userID, err := h.authenticate(ctx, token)
	if err != nil {
		h.log.Info("session rejected", "interview_id", interviewID, "error", err)
		conn.Close(CloseUnauthorized, "authentication failed") //nolint:errcheck
		return
	}

	// Admit.
	iv, err := h.interviews.Get(ctx, interviewID)
	if err != nil {
		h.log.Info("interview not found", "interview_id", interviewID, "error", err)
		conn.Close(CloseNotFound, "interview not found") //nolint:errcheck
		return
	}

	// Prime.
	sess, task, err := h.prime(ctx, iv, userID, conn)
	if err != nil {
		h.log.Error("session prime failed", "interview_id", interviewID, "error", err)
		conn.Close(CloseNotFound, "interview context unavailable") //nolint:errcheck
		return
	}
	if displaced := h.registry.Register(sess); displaced != nil {
		h.log.Info("displacing previous session", "interview_id", interviewID)
		displaced.evict()
	}
	defer func() {
		h.registry.Unregister(sess)
		sess.CloseProvider()
		h.bus.Publish(eventbus.TopicSessionClosed, interviewID)
		conn.Close(websocket.StatusNormalClosure, "session ended") //nolint:errcheck
	}()
	h.bus.Publish(eventbus.TopicSessionConnected, interviewID)

	if err := h.write(ctx, conn, ServerMessage{Type: TypeStatus, Payload: StatusPayload{
		Status:          "connected",
		DurationMinutes: task.DurationMinutes,
	}}); err != nil {
		return
	}

	// Bootstrap: a scheduled interview opens with an AI turn.
	if iv.Status == interview.StatusScheduled {
		if err := h.bootstrap(ctx, conn, sess); err != nil {
			h.log.Error("session bootstrap failed", "interview_id", interviewID, "error", err)
			h.write(ctx, conn, errorMsg("failed to open the interview")) //nolint:errcheck
			return
		}
	}

	h.log.Info("session active", "interview_id", interviewID, "user_id", userID)
	h.loop(ctx, conn, sess, task)
}

// authenticate validates the bearer token and resolves its subject.
func (h *Handler) authenticate(ctx context.Context, token string) (string, error) {
	claims, err := h.verifier.ParseAccessToken(token)
	if err != nil {
		return "", err
	}
	user, err := h.users.GetByID(ctx, claims.Subject)
	if err != nil {
		return "", fmt.Errorf("resolve subject: %w", err)
	}
	return user.ID, nil
}

// prime loads the task and template, builds the interview context, and
// constructs the session with a fresh provider instance.
func (h *Handler) prime(ctx context.Context, iv *interview.Interview, userID string, conn *websocket.Conn) (*Session, *interview.Task, error) {
	task, err := h.tasks.Get(ctx, iv.TaskID)
	if err != nil {
		return nil, nil, fmt.Errorf("load task: %w", err)
	}
	tpl, err := h.templates.Get(ctx, task.TemplateID)
	if err != nil {
		return nil, nil, fmt.Errorf("load template: %w", err)
	}

	provider, err := h.provider()
	if err != nil {
		return nil, nil, fmt.Errorf("construct provider: %w", err)
	}

	ictx := agent.InterviewContext{
		InterviewID:      iv.ID,
		OrganizationName: task.OrganizationName,
		UseCaseType:      tpl.UseCaseType,
		Purpose:          task.Purpose,
		Questions:        tpl.Questions,
		IsAnonymous:      tpl.IsAnonymous,
		Language:         tpl.Language,
		Metadata:         map[string]string{"task_id": task.ID, "template_id": tpl.ID},
	}

	now := h.now()
	return &Session{
		InterviewID: iv.ID,
		UserID:      userID,
		Agent:       agent.New(ictx, provider),
		conn:        conn,
		provider:    provider,
		budget:      newBudget(time.Duration(task.DurationMinutes)*time.Minute, h.now),
		startedAt:   now,
	}, task, nil
}

// bootstrap generates the opening turn, persists it, advances the interview
// to in_progress, and emits the opening. Persistence precedes emission.
func (h *Handler) bootstrap(ctx context.Context, conn *websocket.Conn, sess *Session) error {
	opening, err := sess.Agent.Start(ctx)
	if err != nil {
		return err
	}
	if _, err := h.interviews.AddTranscriptEntry(ctx, sess.InterviewID, interview.RoleAI, opening, h.now()); err != nil {
		return err
	}
	if err := h.interviews.Start(ctx, sess.InterviewID); err != nil {
		return err
	}
	h.bus.Publish(eventbus.TopicInterviewStarted, sess.InterviewID)
	return h.write(ctx, conn, aiResponseMsg(opening, false, true))
}

// loop processes client messages until end, disconnect, or a terminal error.
func (h *Handler) loop(ctx context.Context, conn *websocket.Conn, sess *Session, task *interview.Task) {
	for {
		var msg ClientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				h.log.Info("client disconnected", "interview_id", sess.InterviewID)
			} else {
				h.log.Warn("session read failed", "interview_id", sess.InterviewID, "error", err)
			}
			return
		}

		switch msg.Type {
		case TypeMessage:
			var payload MessagePayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.Content == "" {
				if werr := h.write(ctx, conn, errorMsg("malformed message payload")); werr != nil {
					return
				}
				continue
			}
			if !h.handleMessage(ctx, conn, sess, payload.Content) {
				return
			}
		case TypeControl:
			var payload ControlPayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				if werr := h.write(ctx, conn, errorMsg("malformed control payload")); werr != nil {
					return
				}
				continue
			}
			proceed, err := h.handleControl(ctx, conn, sess, task, payload.Action)
			if err != nil || !proceed {
				return
			}
		case TypeAudioChunk:
			// Placeholder until audio transcription lands.
			if err := h.write(ctx, conn, errorMsg("audio_chunk is not supported yet")); err != nil {
				return
			}
		default:
			if err := h.write(ctx, conn, errorMsg(fmt.Sprintf("unknown message type %q", msg.Type))); err != nil {
				return
			}
		}
	}
}

// handleMessage runs one interviewee turn. The user turn is persisted before
// the model is invoked; the AI turn is persisted after the full reply is
// assembled and before the terminal event. Returns false when the session
// must end.
func (h *Handler) handleMessage(ctx context.Context, conn *websocket.Conn, sess *Session, content string) bool {
	spokenAt := h.now()
	if _, err := h.interviews.AddTranscriptEntry(ctx, sess.InterviewID, interview.RoleUser, content, spokenAt); err != nil {
		h.log.Error("persist user turn", "interview_id", sess.InterviewID, "error", err)
		h.write(ctx, conn, errorMsg("failed to persist your message")) //nolint:errcheck
		return false
	}
	if err := h.write(ctx, conn, transcriptionMsg("user", content, spokenAt)); err != nil {
		return false
	}

	chunks, err := sess.Agent.RespondStream(ctx, content)
	if err != nil {
		return h.reportAgentError(ctx, conn, sess, err)
	}

	var full strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			h.log.Error("stream failed", "interview_id", sess.InterviewID, "error", chunk.Err)
			h.write(ctx, conn, errorMsg("the interviewer backend failed mid-reply")) //nolint:errcheck
			return false
		}
		full.WriteString(chunk.Content)
		if chunk.Content != "" {
			if err := h.write(ctx, conn, aiResponseMsg(chunk.Content, true, false)); err != nil {
				return false
			}
		}
	}

	if _, err := h.interviews.AddTranscriptEntry(ctx, sess.InterviewID, interview.RoleAI, full.String(), h.now()); err != nil {
		h.log.Error("persist ai turn", "interview_id", sess.InterviewID, "error", err)
		h.write(ctx, conn, errorMsg("failed to persist the reply")) //nolint:errcheck
		return false
	}
	if err := h.write(ctx, conn, aiResponseMsg(full.String(), false, true)); err != nil {
		return false
	}

	for _, warning := range sess.budget.check() {
		if err := h.write(ctx, conn, timeWarningMsg(warning)); err != nil {
			return false
		}
	}
	return true
}

// handleControl dispatches pause/resume/end. It returns proceed=false when
// the loop should terminate (after a successful end), and a non-nil error on
// terminal failures.
func (h *Handler) handleControl(ctx context.Context, conn *websocket.Conn, sess *Session, task *interview.Task, action string) (proceed bool, err error) {
	switch action {
	case ActionPause:
		if err := h.interviews.Pause(ctx, sess.InterviewID); err != nil {
			return true, h.reportTransitionError(ctx, conn, err)
		}
		h.bus.Publish(eventbus.TopicInterviewPaused, sess.InterviewID)
		return true, h.write(ctx, conn, statusMsg(string(interview.StatusPaused)))

	case ActionResume:
		if err := h.interviews.Resume(ctx, sess.InterviewID); err != nil {
			return true, h.reportTransitionError(ctx, conn, err)
		}
		h.bus.Publish(eventbus.TopicInterviewResumed, sess.InterviewID)
		return true, h.write(ctx, conn, statusMsg(string(interview.StatusInProgress)))

	case ActionEnd:
		return h.handleEnd(ctx, conn, sess, task)

	default:
		return true, h.write(ctx, conn, errorMsg(fmt.Sprintf("unknown control action %q", action)))
	}
}

// handleEnd closes the interview: summary, closing turn, completion,
// task-status recomputation, and the terminal status message.
func (h *Handler) handleEnd(ctx context.Context, conn *websocket.Conn, sess *Session, task *interview.Task) (proceed bool, err error) {
	closing, summary, err := sess.Agent.End(ctx)
	if err != nil {
		if isGuardError(err) {
			return true, h.write(ctx, conn, errorMsg(err.Error()))
		}
		h.log.Error("end interview", "interview_id", sess.InterviewID, "error", err)
		h.write(ctx, conn, errorMsg("failed to close the interview")) //nolint:errcheck
		return false, err
	}

	if _, err := h.interviews.AddTranscriptEntry(ctx, sess.InterviewID, interview.RoleAI, closing, h.now()); err != nil {
		h.log.Error("persist closing turn", "interview_id", sess.InterviewID, "error", err)
	}

	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		summaryJSON = []byte(`{}`)
	}
	if err := h.interviews.Complete(ctx, sess.InterviewID, summaryJSON); err != nil {
		var ite *interview.InvalidTransitionError
		if errors.As(err, &ite) {
			return true, h.write(ctx, conn, errorMsg(ite.Error()))
		}
		h.log.Error("complete interview", "interview_id", sess.InterviewID, "error", err)
		h.write(ctx, conn, errorMsg("failed to mark the interview complete")) //nolint:errcheck
		return false, err
	}

	if _, err := h.tasks.RecomputeStatus(ctx, task.ID); err != nil {
		h.log.Error("recompute task status", "task_id", task.ID, "error", err)
	}
	h.bus.Publish(eventbus.TopicInterviewCompleted, interview.CompletedEvent{
		InterviewID: sess.InterviewID,
		TaskID:      task.ID,
	})

	if err := h.write(ctx, conn, aiResponseMsg(closing, false, true)); err != nil {
		return false, err
	}
	if err := h.write(ctx, conn, ServerMessage{Type: TypeStatus, Payload: StatusPayload{
		Status:  string(interview.StatusCompleted),
		Summary: summary,
	}}); err != nil {
		return false, err
	}
	return false, nil
}

// reportAgentError keeps the session alive on guard violations and tears it
// down on provider failures.
func (h *Handler) reportAgentError(ctx context.Context, conn *websocket.Conn, sess *Session, err error) bool {
	if isGuardError(err) {
		return h.write(ctx, conn, errorMsg(err.Error())) == nil
	}
	h.log.Error("agent respond", "interview_id", sess.InterviewID, "error", err)
	h.write(ctx, conn, errorMsg("the interviewer backend is unavailable")) //nolint:errcheck
	return false
}

// reportTransitionError keeps the connection open for rejected lifecycle
// transitions and escalates everything else.
func (h *Handler) reportTransitionError(ctx context.Context, conn *websocket.Conn, err error) error {
	var ite *interview.InvalidTransitionError
	if errors.As(err, &ite) {
		return h.write(ctx, conn, errorMsg(ite.Error()))
	}
	return err
}

func isGuardError(err error) bool {
	return errors.Is(err, agent.ErrNotStarted) ||
		errors.Is(err, agent.ErrAlreadyStarted) ||
		errors.Is(err, agent.ErrAlreadyCompleted)
}

func (h *Handler) write(ctx context.Context, conn *websocket.Conn, msg ServerMessage) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, msg)
}

// bearerToken extracts the JWT from ?token= or from an access_token.<jwt>
// subprotocol entry.
func bearerToken(r *http.Request) (token string, fromSubprotocol bool) {
	if t := r.URL.Query().Get("token"); t != "" {
		return t, false
	}
	for _, header := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, proto := range strings.Split(header, ",") {
			proto = strings.TrimSpace(proto)
			if strings.HasPrefix(proto, subprotocolPrefix) {
				return strings.TrimPrefix(proto, subprotocolPrefix), true
			}
		}
	}
	return "", false
}
