// Package relay runs one chat call end to end: authorize, record the user
// turn, stream the agent reply to the client, record the assistant turn.
package relay

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lunahub/agent-gateway/internal/access"
	"github.com/lunahub/agent-gateway/internal/db"
	"github.com/lunahub/agent-gateway/internal/db/models"
	"github.com/lunahub/agent-gateway/internal/logging"
	"github.com/lunahub/agent-gateway/internal/metrics"
	"github.com/lunahub/agent-gateway/internal/upstream"
	"github.com/sirupsen/logrus"
)

const defaultPersistTimeout = 10 * time.Second

// Store is the persistence the relay needs.
type Store interface {
	GetAgent(ctx context.Context, id uint) (*models.Agent, error)
	InsertTurn(ctx context.Context, userID, agentID uint, role, content string) error
}

// Streamer produces reply fragments for one message.
type Streamer interface {
	StreamChat(ctx context.Context, ep upstream.Endpoint, message, callerID string) iter.Seq2[string, error]
}

// EventWriter delivers outbound events to the client. A write error means
// the client is gone.
type EventWriter interface {
	WriteContent(text string) error
	WriteError(message string) error
	WriteDone() error
}

// AuthorizationError rejects a call before any stream is opened.
type AuthorizationError struct {
	Status  int
	Message string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// Relay holds the collaborators shared by all calls.
type Relay struct {
	store          Store
	streamer       Streamer
	metrics        *metrics.Collector
	persistTimeout time.Duration
}

// New returns a relay. m may be nil.
func New(store Store, streamer Streamer, m *metrics.Collector) *Relay {
	return &Relay{
		store:          store,
		streamer:       streamer,
		metrics:        m,
		persistTimeout: defaultPersistTimeout,
	}
}

// Call is an authorized chat whose user turn is already recorded.
type Call struct {
	relay    *Relay
	userID   uint
	agentID  uint
	endpoint upstream.Endpoint
	message  string
}

// Result summarizes a finished call.
type Result struct {
	Reply      string
	Fragments  int
	Err        error
	ClientGone bool
	Saved      bool
}

// Prepare authorizes user for agentID and records the inbound turn. Nothing
// is written when it returns an *AuthorizationError.
func (r *Relay) Prepare(ctx context.Context, user *models.User, agentID uint, message string) (*Call, error) {
	agent, err := r.store.GetAgent(ctx, agentID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, &AuthorizationError{Status: http.StatusNotFound, Message: "agent not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("load agent %d: %w", agentID, err)
	}
	if !access.CanAccess(user, agent) {
		return nil, &AuthorizationError{Status: http.StatusForbidden, Message: "no access to this agent, please upgrade your membership"}
	}
	if !agent.IsActive() {
		return nil, &AuthorizationError{Status: http.StatusBadRequest, Message: "this agent is not available yet"}
	}
	if strings.TrimSpace(message) == "" {
		return nil, &AuthorizationError{Status: http.StatusBadRequest, Message: "message must not be empty"}
	}

	projectID, err := strconv.ParseInt(strings.TrimSpace(agent.ProjectID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("agent %d has a non-numeric project id", agent.ID)
	}

	if err := r.store.InsertTurn(ctx, user.ID, agent.ID, models.RoleUser, message); err != nil {
		return nil, fmt.Errorf("record user turn: %w", err)
	}

	return &Call{
		relay:   r,
		userID:  user.ID,
		agentID: agent.ID,
		endpoint: upstream.Endpoint{
			URL:       agent.APIEndpoint,
			Token:     agent.APIToken,
			ProjectID: projectID,
		},
		message: message,
	}, nil
}

// Run streams the reply to w. It always attempts to record a non-empty reply,
// even when the upstream failed or the client went away, and ends the stream
// with the terminal marker while the client is still connected.
func (c *Call) Run(ctx context.Context, w EventWriter) Result {
	r := c.relay
	log := logging.FromContext(ctx).WithFields(logrus.Fields{
		"user_id":  c.userID,
		"agent_id": c.agentID,
	})
	finish := r.metrics.StreamStarted()

	var (
		reply strings.Builder
		res   Result
	)

	for frag, err := range r.streamer.StreamChat(ctx, c.endpoint, c.message, strconv.FormatUint(uint64(c.userID), 10)) {
		if err != nil {
			if ctx.Err() != nil {
				res.ClientGone = true
				break
			}
			res.Err = err
			log.WithField("kind", upstream.KindName(err)).Warnf("agent stream failed after %d fragments", res.Fragments)
			if werr := w.WriteError(upstream.Message(err)); werr != nil {
				res.ClientGone = true
			}
			break
		}
		reply.WriteString(frag)
		res.Fragments++
		r.metrics.FragmentRelayed()
		if werr := w.WriteContent(frag); werr != nil {
			res.ClientGone = true
			break
		}
	}
	if ctx.Err() != nil {
		res.ClientGone = true
	}

	res.Reply = reply.String()
	res.Saved = c.persistReply(ctx, res.Reply)

	if !res.ClientGone {
		if err := w.WriteDone(); err != nil {
			res.ClientGone = true
		}
	}

	outcome := "completed"
	switch {
	case res.ClientGone:
		outcome = "client_gone"
		log.Infof("client left after %d fragments", res.Fragments)
	case res.Err != nil:
		outcome = "upstream_error"
	default:
		log.Debugf("relayed %d fragments, %d chars", res.Fragments, len(res.Reply))
	}
	finish(outcome)
	return res
}

// persistReply records the assistant turn on a context that outlives the
// client connection.
func (c *Call) persistReply(ctx context.Context, reply string) bool {
	r := c.relay
	if reply == "" {
		r.metrics.ReplyPersisted("skipped_empty")
		return false
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.persistTimeout)
	defer cancel()

	if err := r.store.InsertTurn(pctx, c.userID, c.agentID, models.RoleAssistant, reply); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("agent_id", c.agentID).Error("failed to record assistant turn")
		r.metrics.ReplyPersisted("failed")
		return false
	}
	r.metrics.ReplyPersisted("saved")
	return true
}
