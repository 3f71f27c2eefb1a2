package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/halyard-chat/halyard/internal/auth"
	"github.com/halyard-chat/halyard/internal/channel"
	"github.com/halyard-chat/halyard/internal/config"
	"github.com/halyard-chat/halyard/internal/message"
	"github.com/halyard-chat/halyard/internal/permission"
	"github.com/halyard-chat/halyard/internal/ratelimit"
	"github.com/halyard-chat/halyard/internal/role"
	"github.com/halyard-chat/halyard/internal/user"
	"github.com/halyard-chat/halyard/internal/wire"
)

// errSessionDone signals an orderly end of the read loop: a Close packet, a
// protocol violation, or a rate-limited request that already got its reply.
var errSessionDone = errors.New("session done")

// Handler runs the per-connection protocol: admission, the login state
// machine, and authenticated packet dispatch.
type Handler struct {
	cfg      *config.Config
	users    user.Repository
	roles    role.Repository
	channels channel.Repository
	messages message.Repository
	resolver *permission.Resolver
	limiter  *ratelimit.Limiter
	registry *Registry
	hub      *Hub
	log      zerolog.Logger

	now func() time.Time
}

// NewHandler creates a connection handler.
func NewHandler(
	cfg *config.Config,
	users user.Repository,
	roles role.Repository,
	channels channel.Repository,
	messages message.Repository,
	resolver *permission.Resolver,
	limiter *ratelimit.Limiter,
	registry *Registry,
	hub *Hub,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		cfg:      cfg,
		users:    users,
		roles:    roles,
		channels: channels,
		messages: messages,
		resolver: resolver,
		limiter:  limiter,
		registry: registry,
		hub:      hub,
		log:      logger.With().Str("component", "handler").Logger(),
		now:      time.Now,
	}
}

// HandleConn owns one connection from admission to teardown. It blocks
// until the session ends.
func (h *Handler) HandleConn(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	ip := peerIP(conn)
	log := h.log.With().Str("ip", ip).Logger()

	banned, err := h.users.CountBannedByLastIP(ctx, ip)
	if err != nil {
		log.Error().Err(err).Msg("Admission ban check failed")
		return
	}
	if banned > 0 {
		_ = wire.WritePacket(conn, wire.Err(wire.ErrLoginBanned))
		return
	}

	session := newSession(conn, ip, log)
	if !h.registry.Admit(session) {
		_ = wire.WritePacket(conn, wire.Err(wire.ErrMaxConnPerIP))
		return
	}
	defer h.registry.Remove(session)
	defer session.Close()

	go session.writePump()

	for {
		p, err := wire.ReadPacket(conn)
		if err != nil {
			if !session.Closed() && !errors.Is(err, net.ErrClosed) {
				log.Debug().Err(err).Msg("Read failed, closing session")
			}
			return
		}
		if session.Closed() {
			return
		}
		if err := h.dispatch(ctx, session, p); err != nil {
			if !errors.Is(err, errSessionDone) {
				log.Error().Err(err).Msg("Request failed")
				_ = session.Send(wire.Close{})
			}
			return
		}
	}
}

// dispatch routes one inbound packet. Pre-authentication only Login is
// legal; anything else ends the session.
func (h *Handler) dispatch(ctx context.Context, s *Session, p wire.Packet) error {
	if _, ok := p.(wire.Close); ok {
		return errSessionDone
	}
	if login, ok := p.(*wire.Login); ok {
		return h.handleLogin(ctx, s, login)
	}

	userID := s.UserID()
	if userID == 0 {
		return errSessionDone
	}

	switch p := p.(type) {
	case *wire.LoginUpdate:
		return h.handleLoginUpdate(ctx, s, userID, p)
	case *wire.RoleCreate:
		return h.handleRoleCreate(ctx, s, userID, p)
	case *wire.RoleUpdate:
		return h.handleRoleUpdate(ctx, s, userID, p)
	case *wire.RoleDelete:
		return h.handleRoleDelete(ctx, s, userID, p)
	case *wire.ChannelCreate:
		return h.handleChannelCreate(ctx, s, userID, p)
	case *wire.ChannelUpdate:
		return h.handleChannelUpdate(ctx, s, userID, p)
	case *wire.ChannelDelete:
		return h.handleChannelDelete(ctx, s, userID, p)
	case *wire.MessageCreate:
		return h.handleMessageCreate(ctx, s, userID, p)
	case *wire.MessageUpdate:
		return h.handleMessageUpdate(ctx, s, userID, p)
	case *wire.MessageDelete:
		return h.handleMessageDelete(ctx, s, userID, p)
	case *wire.MessageList:
		return h.handleMessageList(ctx, s, userID, p)
	case *wire.Typing:
		return h.handleTyping(ctx, s, userID, p)
	case *wire.UserUpdate:
		return h.handleUserUpdate(ctx, s, userID, p)
	default:
		// Server-to-client variants are invalid from a client.
		return errSessionDone
	}
}

// --- login ---

func (h *Handler) handleLogin(ctx context.Context, s *Session, p *wire.Login) error {
	if s.UserID() != 0 {
		// The stored id is never overwritten.
		return h.reply(s, wire.Err(wire.ErrLoginInvalid))
	}

	creds, err := h.users.GetCredentialsByName(ctx, p.Name)
	switch {
	case errors.Is(err, user.ErrNotFound):
		return h.createAccount(ctx, s, p)
	case err != nil:
		return fmt.Errorf("look up account: %w", err)
	}

	if !h.allow(s, creds.ID, ratelimit.Expensive) {
		return nil
	}
	if creds.Ban {
		return h.reply(s, wire.Err(wire.ErrLoginBanned))
	}
	if creds.Bot != p.Bot {
		return h.reply(s, wire.Err(wire.ErrLoginBot))
	}

	switch {
	case p.Password != nil:
		match, err := auth.VerifyPassword(*p.Password, creds.PasswordHash)
		if err != nil {
			return fmt.Errorf("verify password: %w", err)
		}
		if !match {
			return h.reply(s, wire.Err(wire.ErrLoginInvalid))
		}
	case p.Token != nil:
		if subtle.ConstantTimeCompare([]byte(*p.Token), []byte(creds.Token)) != 1 {
			return h.reply(s, wire.Err(wire.ErrLoginInvalid))
		}
	default:
		return h.reply(s, wire.Err(wire.ErrMissingField))
	}

	if err := h.users.SetLastIP(ctx, creds.ID, s.IP); err != nil {
		return fmt.Errorf("record login ip: %w", err)
	}
	s.Authenticate(creds.ID)
	if err := h.reply(s, &wire.LoginSuccess{Created: false, ID: creds.ID, Token: creds.Token}); err != nil {
		return err
	}
	return h.sendSnapshot(ctx, s)
}

// createAccount handles a Login for an unused name. Password logins create
// the account; token logins report the token stale.
func (h *Handler) createAccount(ctx context.Context, s *Session, p *wire.Login) error {
	if p.Password == nil {
		return h.reply(s, wire.Err(wire.ErrLoginInvalid))
	}
	if len(p.Name) < h.cfg.LimitUserNameMin || len(p.Name) > h.cfg.LimitUserNameMax {
		return h.reply(s, wire.Err(wire.ErrLimitReached))
	}

	hash, err := auth.HashPassword(*p.Password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	token, err := auth.GenerateToken()
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}

	id, err := h.users.Create(ctx, user.CreateParams{
		Bot:          p.Bot,
		LastIP:       s.IP,
		Name:         p.Name,
		PasswordHash: hash,
		Token:        token,
	})
	if errors.Is(err, user.ErrNameTaken) {
		// Lost a race for the name.
		return h.reply(s, wire.Err(wire.ErrLoginInvalid))
	}
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}

	s.Authenticate(id)
	if err := h.reply(s, &wire.LoginSuccess{Created: true, ID: id, Token: token}); err != nil {
		return err
	}
	h.hub.Broadcast(ctx, &wire.UserReceive{Inner: wire.User{
		Roles: []uint64{},
		Bot:   p.Bot,
		ID:    id,
		Name:  p.Name,
	}}, nil)
	return h.sendSnapshot(ctx, s)
}

// sendSnapshot unicasts the full state to a freshly authenticated session:
// every role, every channel with overrides, every user.
func (h *Handler) sendSnapshot(ctx context.Context, s *Session) error {
	roles, err := h.roles.List(ctx)
	if err != nil {
		return fmt.Errorf("snapshot roles: %w", err)
	}
	for i := range roles {
		if err := h.reply(s, &wire.RoleReceive{Inner: roles[i].ToWire(), New: false}); err != nil {
			return err
		}
	}

	channels, err := h.channels.List(ctx)
	if err != nil {
		return fmt.Errorf("snapshot channels: %w", err)
	}
	for i := range channels {
		if err := h.reply(s, &wire.ChannelReceive{Inner: channels[i].ToWire()}); err != nil {
			return err
		}
	}

	users, err := h.users.List(ctx)
	if err != nil {
		return fmt.Errorf("snapshot users: %w", err)
	}
	for i := range users {
		if err := h.reply(s, &wire.UserReceive{Inner: users[i].ToWire()}); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) handleLoginUpdate(ctx context.Context, s *Session, userID uint64, p *wire.LoginUpdate) error {
	resetToken := p.ResetToken
	passwordChange := p.PasswordCurrent != nil && p.PasswordNew != nil

	class := ratelimit.Cheap
	if resetToken || passwordChange {
		class = ratelimit.Expensive
	}
	if !h.allow(s, userID, class) {
		return nil
	}

	if p.Name != nil {
		if len(*p.Name) < h.cfg.LimitUserNameMin || len(*p.Name) > h.cfg.LimitUserNameMax {
			return h.reply(s, wire.Err(wire.ErrLimitReached))
		}
		err := h.users.SetName(ctx, userID, *p.Name)
		if errors.Is(err, user.ErrNameTaken) {
			return h.reply(s, wire.Err(wire.ErrLoginInvalid))
		}
		if err != nil {
			return fmt.Errorf("rename account: %w", err)
		}
		renamed, err := h.users.GetByID(ctx, userID)
		if err != nil {
			return fmt.Errorf("load renamed account: %w", err)
		}
		h.hub.Broadcast(ctx, &wire.UserReceive{Inner: renamed.ToWire()}, nil)
	}

	if p.PasswordCurrent != nil {
		if p.PasswordNew == nil {
			return h.reply(s, wire.Err(wire.ErrMissingField))
		}
		hash, err := h.users.GetPasswordHash(ctx, userID)
		if err != nil {
			return fmt.Errorf("load password hash: %w", err)
		}
		match, err := auth.VerifyPassword(*p.PasswordCurrent, hash)
		if err != nil {
			return fmt.Errorf("verify password: %w", err)
		}
		if !match {
			return h.reply(s, wire.Err(wire.ErrLoginInvalid))
		}
		newHash, err := auth.HashPassword(*p.PasswordNew)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		if err := h.users.SetPassword(ctx, userID, newHash); err != nil {
			return fmt.Errorf("store password: %w", err)
		}
		// A changed password always invalidates the old token.
		resetToken = true
	}

	if resetToken {
		token, err := auth.GenerateToken()
		if err != nil {
			return fmt.Errorf("generate token: %w", err)
		}
		if err := h.users.SetToken(ctx, userID, token); err != nil {
			return fmt.Errorf("store token: %w", err)
		}
		return h.reply(s, &wire.LoginSuccess{Created: false, ID: userID, Token: token})
	}
	return nil
}

// --- roles ---

func (h *Handler) handleRoleCreate(ctx context.Context, s *Session, userID uint64, p *wire.RoleCreate) error {
	if !h.allow(s, userID, ratelimit.Cheap) {
		return nil
	}
	if len(p.Name) < h.cfg.LimitRoleNameMin || len(p.Name) > h.cfg.LimitRoleNameMax {
		return h.reply(s, wire.Err(wire.ErrLimitReached))
	}
	if err := h.requirePermission(ctx, s, userID, permission.ManageRoles, nil); err != nil {
		return permDenied(err)
	}

	created, err := h.roles.Create(ctx, role.CreateParams{
		Allow:        p.Allow,
		Deny:         p.Deny,
		Name:         p.Name,
		Pos:          p.Pos,
		Unassignable: p.Unassignable,
	}, h.cfg.LimitRoleAmountMax)
	switch {
	case errors.Is(err, role.ErrTooMany):
		return h.reply(s, wire.Err(wire.ErrLimitReached))
	case errors.Is(err, role.ErrInvalidPos):
		return h.reply(s, wire.Err(wire.ErrAttrInvalidPos))
	case err != nil:
		return fmt.Errorf("create role: %w", err)
	}

	h.hub.Broadcast(ctx, &wire.RoleReceive{Inner: created.ToWire(), New: true}, nil)
	return nil
}

func (h *Handler) handleRoleUpdate(ctx context.Context, s *Session, userID uint64, p *wire.RoleUpdate) error {
	if !h.allow(s, userID, ratelimit.Cheap) {
		return nil
	}
	if len(p.Inner.Name) < h.cfg.LimitRoleNameMin || len(p.Inner.Name) > h.cfg.LimitRoleNameMax {
		return h.reply(s, wire.Err(wire.ErrLimitReached))
	}
	if err := h.requirePermission(ctx, s, userID, permission.ManageRoles, nil); err != nil {
		return permDenied(err)
	}

	updated, err := h.roles.Update(ctx, role.Role{
		ID:           p.Inner.ID,
		Allow:        p.Inner.Allow,
		Deny:         p.Inner.Deny,
		Name:         p.Inner.Name,
		Pos:          p.Inner.Pos,
		Unassignable: p.Inner.Unassignable,
	})
	switch {
	case errors.Is(err, role.ErrNotFound):
		return h.reply(s, wire.Err(wire.ErrUnknownAttribute))
	case errors.Is(err, role.ErrInvalidPos):
		return h.reply(s, wire.Err(wire.ErrAttrInvalidPos))
	case errors.Is(err, role.ErrLockedName):
		return h.reply(s, wire.Err(wire.ErrAttrLockedName))
	case err != nil:
		return fmt.Errorf("update role: %w", err)
	}

	h.hub.Broadcast(ctx, &wire.RoleReceive{Inner: updated.ToWire(), New: true}, nil)
	return nil
}

func (h *Handler) handleRoleDelete(ctx context.Context, s *Session, userID uint64, p *wire.RoleDelete) error {
	if !h.allow(s, userID, ratelimit.Cheap) {
		return nil
	}
	if err := h.requirePermission(ctx, s, userID, permission.ManageRoles, nil); err != nil {
		return permDenied(err)
	}

	deleted, err := h.roles.Delete(ctx, p.ID)
	switch {
	case errors.Is(err, role.ErrNotFound):
		return h.reply(s, wire.Err(wire.ErrUnknownAttribute))
	case errors.Is(err, role.ErrInvalidPos):
		return h.reply(s, wire.Err(wire.ErrAttrInvalidPos))
	case err != nil:
		return fmt.Errorf("delete role: %w", err)
	}

	h.hub.Broadcast(ctx, &wire.RoleDeleteReceive{Inner: deleted.ToWire()}, nil)
	return nil
}

// --- channels ---

func (h *Handler) handleChannelCreate(ctx context.Context, s *Session, userID uint64, p *wire.ChannelCreate) error {
	if !h.allow(s, userID, ratelimit.Cheap) {
		return nil
	}
	if len(p.Name) < h.cfg.LimitChannelNameMin || len(p.Name) > h.cfg.LimitChannelNameMax ||
		len(p.Overrides) > h.cfg.LimitRoleAmountMax {
		return h.reply(s, wire.Err(wire.ErrLimitReached))
	}
	if err := h.requirePermission(ctx, s, userID, permission.ManageChannels, nil); err != nil {
		return permDenied(err)
	}

	created, err := h.channels.Create(ctx, p.Name, channel.OverridesFromWire(p.Overrides))
	if err != nil {
		return fmt.Errorf("create channel: %w", err)
	}

	h.hub.Broadcast(ctx, &wire.ChannelReceive{Inner: created.ToWire()}, nil)
	return nil
}

func (h *Handler) handleChannelUpdate(ctx context.Context, s *Session, userID uint64, p *wire.ChannelUpdate) error {
	if !h.allow(s, userID, ratelimit.Cheap) {
		return nil
	}
	if len(p.Inner.Name) < h.cfg.LimitChannelNameMin || len(p.Inner.Name) > h.cfg.LimitChannelNameMax ||
		len(p.Inner.Overrides) > h.cfg.LimitRoleAmountMax {
		return h.reply(s, wire.Err(wire.ErrLimitReached))
	}

	old, err := h.channels.GetByID(ctx, p.Inner.ID)
	if errors.Is(err, channel.ErrNotFound) {
		return h.reply(s, wire.Err(wire.ErrUnknownChannel))
	}
	if err != nil {
		return fmt.Errorf("load channel: %w", err)
	}
	if err := h.requirePermission(ctx, s, userID, permission.ManageChannels, old.Overrides); err != nil {
		return permDenied(err)
	}

	updated, err := h.channels.Update(ctx, p.Inner.ID, p.Inner.Name,
		channel.OverridesFromWire(p.Inner.Overrides), p.KeepOverrides)
	if errors.Is(err, channel.ErrNotFound) {
		return h.reply(s, wire.Err(wire.ErrUnknownChannel))
	}
	if err != nil {
		return fmt.Errorf("update channel: %w", err)
	}

	h.hub.Broadcast(ctx, &wire.ChannelReceive{Inner: updated.ToWire()}, nil)
	return nil
}

func (h *Handler) handleChannelDelete(ctx context.Context, s *Session, userID uint64, p *wire.ChannelDelete) error {
	if !h.allow(s, userID, ratelimit.Cheap) {
		return nil
	}

	old, err := h.channels.GetByID(ctx, p.ID)
	if errors.Is(err, channel.ErrNotFound) {
		return h.reply(s, wire.Err(wire.ErrUnknownChannel))
	}
	if err != nil {
		return fmt.Errorf("load channel: %w", err)
	}
	if err := h.requirePermission(ctx, s, userID, permission.ManageChannels, old.Overrides); err != nil {
		return permDenied(err)
	}

	deleted, err := h.channels.Delete(ctx, p.ID)
	if errors.Is(err, channel.ErrNotFound) {
		return h.reply(s, wire.Err(wire.ErrUnknownChannel))
	}
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}

	h.hub.Broadcast(ctx, &wire.ChannelDeleteReceive{Inner: deleted.ToWire()}, nil)
	return nil
}

// --- messages ---

func (h *Handler) handleMessageCreate(ctx context.Context, s *Session, userID uint64, p *wire.MessageCreate) error {
	if !h.allow(s, userID, ratelimit.Cheap) {
		return nil
	}
	if len(p.Text) < h.cfg.LimitMessageMin || len(p.Text) > h.cfg.LimitMessageMax {
		return h.reply(s, wire.Err(wire.ErrLimitReached))
	}

	ch, err := h.channels.GetByID(ctx, p.Channel)
	if errors.Is(err, channel.ErrNotFound) {
		return h.reply(s, wire.Err(wire.ErrUnknownChannel))
	}
	if err != nil {
		return fmt.Errorf("load channel: %w", err)
	}
	if err := h.requirePermission(ctx, s, userID, permission.Write, ch.Overrides); err != nil {
		return permDenied(err)
	}

	msg, err := h.messages.Create(ctx, message.CreateParams{
		Author:    userID,
		Channel:   p.Channel,
		Text:      p.Text,
		Timestamp: h.now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("store message: %w", err)
	}

	h.hub.Broadcast(ctx, &wire.MessageReceive{Inner: msg.ToWire(), New: true}, ch.Overrides)
	return nil
}

func (h *Handler) handleMessageUpdate(ctx context.Context, s *Session, userID uint64, p *wire.MessageUpdate) error {
	if !h.allow(s, userID, ratelimit.Cheap) {
		return nil
	}
	if len(p.Text) < h.cfg.LimitMessageMin || len(p.Text) > h.cfg.LimitMessageMax {
		return h.reply(s, wire.Err(wire.ErrLimitReached))
	}

	msg, err := h.messages.GetByID(ctx, p.ID)
	if errors.Is(err, message.ErrNotFound) {
		return h.reply(s, wire.Err(wire.ErrUnknownMessage))
	}
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}

	ch, err := h.channels.GetByID(ctx, p.Channel)
	if errors.Is(err, channel.ErrNotFound) {
		return h.reply(s, wire.Err(wire.ErrUnknownChannel))
	}
	if err != nil {
		return fmt.Errorf("load channel: %w", err)
	}
	if msg.Channel != p.Channel {
		return h.reply(s, wire.Err(wire.ErrUnknownChannel))
	}
	if msg.Author != userID {
		return h.reply(s, wire.Err(wire.ErrMissingPermission))
	}

	editedAt := h.now().Unix()
	if err := h.messages.SetText(ctx, p.ID, p.Text, editedAt); err != nil {
		return fmt.Errorf("store message edit: %w", err)
	}

	msg.Text = p.Text
	msg.TimestampEdit = &editedAt
	h.hub.Broadcast(ctx, &wire.MessageReceive{Inner: msg.ToWire(), New: true}, ch.Overrides)
	return nil
}

func (h *Handler) handleMessageDelete(ctx context.Context, s *Session, userID uint64, p *wire.MessageDelete) error {
	if !h.allow(s, userID, ratelimit.Cheap) {
		return nil
	}

	msg, err := h.messages.GetByID(ctx, p.ID)
	if errors.Is(err, message.ErrNotFound) {
		return h.reply(s, wire.Err(wire.ErrUnknownMessage))
	}
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}

	ch, err := h.channels.GetByID(ctx, p.Channel)
	if errors.Is(err, channel.ErrNotFound) {
		return h.reply(s, wire.Err(wire.ErrUnknownChannel))
	}
	if err != nil {
		return fmt.Errorf("load channel: %w", err)
	}
	if msg.Channel != p.Channel {
		return h.reply(s, wire.Err(wire.ErrUnknownChannel))
	}
	if msg.Author != userID {
		if err := h.requirePermission(ctx, s, userID, permission.ManageMessages, ch.Overrides); err != nil {
			return permDenied(err)
		}
	}

	if err := h.messages.Delete(ctx, p.ID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	h.hub.Broadcast(ctx, &wire.MessageDeleteReceive{ID: p.ID}, ch.Overrides)
	return nil
}

func (h *Handler) handleMessageList(ctx context.Context, s *Session, userID uint64, p *wire.MessageList) error {
	if !h.allow(s, userID, ratelimit.Cheap) {
		return nil
	}

	ch, err := h.channels.GetByID(ctx, p.Channel)
	if errors.Is(err, channel.ErrNotFound) {
		return h.reply(s, wire.Err(wire.ErrUnknownChannel))
	}
	if err != nil {
		return fmt.Errorf("load channel: %w", err)
	}
	if p.Limit > wire.LimitMessageList {
		return h.reply(s, wire.Err(wire.ErrLimitReached))
	}
	if err := h.requirePermission(ctx, s, userID, permission.Read, ch.Overrides); err != nil {
		return permDenied(err)
	}

	page, err := h.messages.List(ctx, message.ListParams{
		Channel: p.Channel,
		After:   p.After,
		Before:  p.Before,
		Limit:   p.Limit,
	})
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	for i := range page {
		if err := h.reply(s, &wire.MessageReceive{Inner: page[i].ToWire(), New: false}); err != nil {
			return err
		}
	}
	return nil
}

// --- typing / users ---

func (h *Handler) handleTyping(ctx context.Context, s *Session, userID uint64, p *wire.Typing) error {
	ch, err := h.channels.GetByID(ctx, p.Channel)
	if errors.Is(err, channel.ErrNotFound) {
		return h.reply(s, wire.Err(wire.ErrUnknownChannel))
	}
	if err != nil {
		return fmt.Errorf("load channel: %w", err)
	}
	if err := h.requirePermission(ctx, s, userID, permission.Write, ch.Overrides); err != nil {
		return permDenied(err)
	}

	h.hub.Broadcast(ctx, &wire.TypingReceive{Author: userID, Channel: p.Channel}, ch.Overrides)
	return nil
}

func (h *Handler) handleUserUpdate(ctx context.Context, s *Session, userID uint64, p *wire.UserUpdate) error {
	if !h.allow(s, userID, ratelimit.Cheap) {
		return nil
	}

	target, err := h.users.GetByID(ctx, p.ID)
	if errors.Is(err, user.ErrNotFound) {
		return h.reply(s, wire.Err(wire.ErrUnknownUser))
	}
	if err != nil {
		return fmt.Errorf("load target user: %w", err)
	}

	switch {
	case p.Ban != nil:
		return h.banUser(ctx, s, userID, target, *p.Ban)
	case p.Roles != nil:
		return h.assignRoles(ctx, s, userID, target, *p.Roles)
	}
	return nil
}

func (h *Handler) banUser(ctx context.Context, s *Session, userID uint64, target *user.User, ban bool) error {
	if target.ID == userID || h.cfg.IsOwner(target.ID) {
		return h.reply(s, wire.Err(wire.ErrMissingPermission))
	}
	if err := h.requirePermission(ctx, s, userID, permission.Ban, nil); err != nil {
		return permDenied(err)
	}

	if err := h.users.SetBan(ctx, target.ID, ban); err != nil {
		return fmt.Errorf("store ban: %w", err)
	}
	if ban {
		// Sessions go before the broadcast so a banned user never sees it.
		h.registry.CloseUser(target.ID)
	}

	target.Ban = ban
	h.hub.Broadcast(ctx, &wire.UserReceive{Inner: target.ToWire()}, nil)
	return nil
}

func (h *Handler) assignRoles(ctx context.Context, s *Session, userID uint64, target *user.User, newRoles []uint64) error {
	if err := h.requirePermission(ctx, s, userID, permission.AssignRoles, nil); err != nil {
		return permDenied(err)
	}

	changed := symmetricDiff(target.Roles, newRoles)
	allowed, err := h.roleChangeAllowed(ctx, userID, target, changed)
	if err != nil {
		return err
	}
	if !allowed {
		return h.reply(s, wire.Err(wire.ErrMissingPermission))
	}

	if err := h.users.SetRoles(ctx, target.ID, newRoles); err != nil {
		return fmt.Errorf("store role assignment: %w", err)
	}

	target.Roles = newRoles
	h.hub.Broadcast(ctx, &wire.UserReceive{Inner: target.ToWire()}, nil)
	return nil
}

// roleChangeAllowed decides whether the requester may flip the given role
// set difference on the target. With MANAGE_ROLES any existing non-system
// role may change; otherwise each changed role must be assignable, off
// position 0, and below the target's highest current role.
func (h *Handler) roleChangeAllowed(ctx context.Context, userID uint64, target *user.User, changed []uint64) (bool, error) {
	if len(changed) == 0 {
		return false, nil
	}

	changedRoles, err := h.roles.GetByIDs(ctx, changed)
	if err != nil {
		return false, fmt.Errorf("load changed roles: %w", err)
	}
	if len(changedRoles) != len(changed) {
		// At least one id does not exist.
		return false, nil
	}

	requester, err := h.users.GetByID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load requester: %w", err)
	}
	manages, err := h.resolver.Has(ctx, requester, permission.ManageRoles, nil)
	if err != nil {
		return false, fmt.Errorf("resolve permissions: %w", err)
	}

	if manages {
		for i := range changedRoles {
			if changedRoles[i].Pos == 0 {
				return false, nil
			}
		}
		return true, nil
	}

	var maxPos uint64
	if len(target.Roles) > 0 {
		held, err := h.roles.GetByIDs(ctx, target.Roles)
		if err != nil {
			return false, fmt.Errorf("load target roles: %w", err)
		}
		for i := range held {
			if held[i].Pos > maxPos {
				maxPos = held[i].Pos
			}
		}
	}
	for i := range changedRoles {
		r := &changedRoles[i]
		if r.Unassignable || r.Pos == 0 {
			return false, nil
		}
		if len(target.Roles) > 0 && r.Pos >= maxPos {
			return false, nil
		}
	}
	return true, nil
}

// --- helpers ---

// errNoPermission marks a denied permission check that has already been
// answered with Err(MISSING_PERMISSION).
var errNoPermission = errors.New("permission denied")

// requirePermission resolves the requester's mask in the given override
// context and replies MISSING_PERMISSION itself when the bit is absent.
func (h *Handler) requirePermission(ctx context.Context, s *Session, userID uint64, perm permission.Mask, overrides []channel.Override) error {
	requester, err := h.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load requester: %w", err)
	}
	ok, err := h.resolver.Has(ctx, requester, perm, overrides)
	if err != nil {
		return fmt.Errorf("resolve permissions: %w", err)
	}
	if !ok {
		if err := h.reply(s, wire.Err(wire.ErrMissingPermission)); err != nil {
			return err
		}
		return errNoPermission
	}
	return nil
}

// permDenied converts a requirePermission denial into a clean non-error;
// anything else passes through.
func permDenied(err error) error {
	if errors.Is(err, errNoPermission) {
		return nil
	}
	return err
}

// allow runs the rate limiter, replying RateLimited on a breach.
func (h *Handler) allow(s *Session, userID uint64, class ratelimit.Class) bool {
	retry, ok := h.limiter.Allow(userID, class)
	if !ok {
		if err := s.Send(wire.RateLimited(retry)); err != nil {
			h.log.Warn().Err(err).Msg("Failed to send rate limit notice")
		}
		return false
	}
	return true
}

func (h *Handler) reply(s *Session, p wire.Packet) error {
	if err := s.Send(p); err != nil {
		return fmt.Errorf("queue reply: %w", err)
	}
	return nil
}

func symmetricDiff(a, b []uint64) []uint64 {
	inA := make(map[uint64]struct{}, len(a))
	for _, v := range a {
		inA[v] = struct{}{}
	}
	inB := make(map[uint64]struct{}, len(b))
	for _, v := range b {
		inB[v] = struct{}{}
	}

	var diff []uint64
	for _, v := range b {
		if _, ok := inA[v]; !ok {
			diff = append(diff, v)
		}
	}
	for _, v := range a {
		if _, ok := inB[v]; !ok {
			diff = append(diff, v)
		}
	}
	return diff
}

func peerIP(conn net.Conn) string {
	addr := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
