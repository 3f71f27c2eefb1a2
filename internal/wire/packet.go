// Package wire defines the halyard client/server protocol: a closed union of
// MessagePack-encoded packets framed with a 2-byte big-endian length prefix.
package wire

// DefaultPort is the TCP port used when none is given on the command line.
const DefaultPort = 8439

// TypingTimeoutSeconds is how long a client should display a typing
// indicator after a TypingReceive with no follow-up.
const TypingTimeoutSeconds = 10

// Hard protocol limits. Server configuration may lower these but never raise
// them.
const (
	LimitUserName    = 128
	LimitChannelName = 128
	LimitRoleName    = 128
	LimitRoleAmount  = 2048
	LimitMessage     = 16384

	// LimitMessageList caps a single MessageList page.
	LimitMessageList = 64
)

// Error codes carried by the Err packet.
const (
	ErrAttrInvalidPos    uint8 = 1
	ErrAttrLockedName    uint8 = 2
	ErrLimitReached      uint8 = 3
	ErrLoginBanned       uint8 = 4
	ErrLoginBot          uint8 = 5
	ErrLoginInvalid      uint8 = 6
	ErrMaxConnPerIP      uint8 = 7
	ErrMissingField      uint8 = 8
	ErrMissingPermission uint8 = 9
	ErrUnknownAttribute  uint8 = 10
	ErrUnknownChannel    uint8 = 11
	ErrUnknownMessage    uint8 = 12
	ErrUnknownUser       uint8 = 13
)

// Override is a channel-scoped (allow, deny) pair for one role, encoded as a
// 2-element array on the wire.
type Override struct {
	_msgpack struct{} `msgpack:",as_array"`

	Allow uint8
	Deny  uint8
}

// User is the credential-free view of an account that the server shares with
// every session. Roles lists explicit role ids only; the two reserved system
// roles are implied by Bot.
type User struct {
	Roles []uint64 `msgpack:"roles"`
	Ban   bool     `msgpack:"ban"`
	Bot   bool     `msgpack:"bot"`
	ID    uint64   `msgpack:"id"`
	Name  string   `msgpack:"name"`
}

// Role is an ordered permission holder. Pos 0 is reserved for the two system
// roles; all other positions are dense from 1 upward.
type Role struct {
	Allow        uint8  `msgpack:"allow"`
	Deny         uint8  `msgpack:"deny"`
	ID           uint64 `msgpack:"id"`
	Name         string `msgpack:"name"`
	Pos          uint64 `msgpack:"pos"`
	Unassignable bool   `msgpack:"unassignable"`
}

// Channel carries its per-role permission overrides keyed by role id.
type Channel struct {
	ID        uint64              `msgpack:"id"`
	Name      string              `msgpack:"name"`
	Overrides map[uint64]Override `msgpack:"overrides"`
}

// Message text is opaque bytes; the server never interprets it.
type Message struct {
	Author        uint64 `msgpack:"author"`
	Channel       uint64 `msgpack:"channel"`
	ID            uint64 `msgpack:"id"`
	Text          []byte `msgpack:"text"`
	Timestamp     int64  `msgpack:"timestamp"`
	TimestampEdit *int64 `msgpack:"timestamp_edit"`
}

// Packet is the closed union of everything that can cross the wire. Concrete
// packets live in this package only; Decode rejects unknown variant names.
type Packet interface {
	wireName() string
}

// Close ends the session. Valid in both directions.
type Close struct{}

// Err is a server error reply carrying one of the Err* codes.
type Err uint8

// RateLimited is a server reply carrying the seconds left until the
// offending rate window resets.
type RateLimited uint64

// Login authenticates a session, either with a token or with a password. A
// password login against an unused name creates the account.
type Login struct {
	Bot      bool    `msgpack:"bot"`
	Name     string  `msgpack:"name"`
	Password *string `msgpack:"password"`
	Token    *string `msgpack:"token"`
}

// LoginSuccess reports the authenticated user id and the bearer token to use
// for future logins. Created is true when the account was just made.
type LoginSuccess struct {
	Created bool   `msgpack:"created"`
	ID      uint64 `msgpack:"id"`
	Token   string `msgpack:"token"`
}

// LoginUpdate modifies the requester's own account. Changing the password or
// setting ResetToken rotates the token, answered with a LoginSuccess.
type LoginUpdate struct {
	Name            *string `msgpack:"name"`
	PasswordCurrent *string `msgpack:"password_current"`
	PasswordNew     *string `msgpack:"password_new"`
	ResetToken      bool    `msgpack:"reset_token"`
}

// RoleCreate inserts a role at Pos, shifting existing roles upward.
type RoleCreate struct {
	Allow        uint8  `msgpack:"allow"`
	Deny         uint8  `msgpack:"deny"`
	Name         string `msgpack:"name"`
	Pos          uint64 `msgpack:"pos"`
	Unassignable bool   `msgpack:"unassignable"`
}

// RoleUpdate replaces a role's fields, repositioning neighbours as needed.
type RoleUpdate struct {
	Inner Role `msgpack:"inner"`
}

// RoleDelete removes a non-system role and closes the position gap.
type RoleDelete struct {
	ID uint64 `msgpack:"id"`
}

// RoleReceive announces a created or updated role. New distinguishes a live
// change from an initial-snapshot element.
type RoleReceive struct {
	Inner Role `msgpack:"inner"`
	New   bool `msgpack:"new"`
}

// RoleDeleteReceive announces a deleted role.
type RoleDeleteReceive struct {
	Inner Role `msgpack:"inner"`
}

// ChannelCreate makes a channel with an initial override set.
type ChannelCreate struct {
	Name      string              `msgpack:"name"`
	Overrides map[uint64]Override `msgpack:"overrides"`
}

// ChannelUpdate renames a channel and, unless KeepOverrides is set, replaces
// its override set.
type ChannelUpdate struct {
	Inner         Channel `msgpack:"inner"`
	KeepOverrides bool    `msgpack:"keep_overrides"`
}

// ChannelDelete removes a channel together with its messages and overrides.
type ChannelDelete struct {
	ID uint64 `msgpack:"id"`
}

// ChannelReceive announces a created or updated channel.
type ChannelReceive struct {
	Inner Channel `msgpack:"inner"`
}

// ChannelDeleteReceive announces a deleted channel.
type ChannelDeleteReceive struct {
	Inner Channel `msgpack:"inner"`
}

// MessageCreate posts a message to a channel.
type MessageCreate struct {
	Channel uint64 `msgpack:"channel"`
	Text    []byte `msgpack:"text"`
}

// MessageUpdate edits a message. Channel must match the message's channel.
type MessageUpdate struct {
	Channel uint64 `msgpack:"channel"`
	ID      uint64 `msgpack:"id"`
	Text    []byte `msgpack:"text"`
}

// MessageDelete removes a message. Channel must match the message's channel.
type MessageDelete struct {
	Channel uint64 `msgpack:"channel"`
	ID      uint64 `msgpack:"id"`
}

// MessageList requests a page of up to Limit messages from a channel, around
// an optional Before/After anchor message id. Results arrive as unicast
// MessageReceive packets with New false.
type MessageList struct {
	After   *uint64 `msgpack:"after"`
	Before  *uint64 `msgpack:"before"`
	Channel uint64  `msgpack:"channel"`
	Limit   uint64  `msgpack:"limit"`
}

// MessageReceive carries a message, either as a broadcast (New true) or as a
// MessageList element (New false).
type MessageReceive struct {
	Inner Message `msgpack:"inner"`
	New   bool    `msgpack:"new"`
}

// MessageDeleteReceive announces a deleted message.
type MessageDeleteReceive struct {
	ID uint64 `msgpack:"id"`
}

// Typing signals that the requester is typing in a channel. Not rate
// limited.
type Typing struct {
	Channel uint64 `msgpack:"channel"`
}

// TypingReceive relays a typing signal to channel readers.
type TypingReceive struct {
	Author  uint64 `msgpack:"author"`
	Channel uint64 `msgpack:"channel"`
}

// UserReceive announces a created or updated user.
type UserReceive struct {
	Inner User `msgpack:"inner"`
}

// UserUpdate bans/unbans a user or replaces their explicit role list. Nil
// fields are left untouched; an empty Roles slice removes every role.
type UserUpdate struct {
	ID    uint64    `msgpack:"id"`
	Ban   *bool     `msgpack:"ban"`
	Roles *[]uint64 `msgpack:"roles"`
}

// Wire variant names, snake_case.
const (
	nameClose                = "close"
	nameErr                  = "err"
	nameRateLimited          = "rate_limited"
	nameLogin                = "login"
	nameLoginSuccess         = "login_success"
	nameLoginUpdate          = "login_update"
	nameRoleCreate           = "role_create"
	nameRoleUpdate           = "role_update"
	nameRoleDelete           = "role_delete"
	nameRoleReceive          = "role_receive"
	nameRoleDeleteReceive    = "role_delete_receive"
	nameChannelCreate        = "channel_create"
	nameChannelUpdate        = "channel_update"
	nameChannelDelete        = "channel_delete"
	nameChannelReceive       = "channel_receive"
	nameChannelDeleteReceive = "channel_delete_receive"
	nameMessageCreate        = "message_create"
	nameMessageUpdate        = "message_update"
	nameMessageDelete        = "message_delete"
	nameMessageList          = "message_list"
	nameMessageReceive       = "message_receive"
	nameMessageDeleteReceive = "message_delete_receive"
	nameTyping               = "typing"
	nameTypingReceive        = "typing_receive"
	nameUserReceive          = "user_receive"
	nameUserUpdate           = "user_update"
)

func (Close) wireName() string                 { return nameClose }
func (Err) wireName() string                   { return nameErr }
func (RateLimited) wireName() string           { return nameRateLimited }
func (*Login) wireName() string                { return nameLogin }
func (*LoginSuccess) wireName() string         { return nameLoginSuccess }
func (*LoginUpdate) wireName() string          { return nameLoginUpdate }
func (*RoleCreate) wireName() string           { return nameRoleCreate }
func (*RoleUpdate) wireName() string           { return nameRoleUpdate }
func (*RoleDelete) wireName() string           { return nameRoleDelete }
func (*RoleReceive) wireName() string          { return nameRoleReceive }
func (*RoleDeleteReceive) wireName() string    { return nameRoleDeleteReceive }
func (*ChannelCreate) wireName() string        { return nameChannelCreate }
func (*ChannelUpdate) wireName() string        { return nameChannelUpdate }
func (*ChannelDelete) wireName() string        { return nameChannelDelete }
func (*ChannelReceive) wireName() string       { return nameChannelReceive }
func (*ChannelDeleteReceive) wireName() string { return nameChannelDeleteReceive }
func (*MessageCreate) wireName() string        { return nameMessageCreate }
func (*MessageUpdate) wireName() string        { return nameMessageUpdate }
func (*MessageDelete) wireName() string        { return nameMessageDelete }
func (*MessageList) wireName() string          { return nameMessageList }
func (*MessageReceive) wireName() string       { return nameMessageReceive }
func (*MessageDeleteReceive) wireName() string { return nameMessageDeleteReceive }
func (*Typing) wireName() string               { return nameTyping }
func (*TypingReceive) wireName() string        { return nameTypingReceive }
func (*UserReceive) wireName() string          { return nameUserReceive }
func (*UserUpdate) wireName() string           { return nameUserUpdate }
