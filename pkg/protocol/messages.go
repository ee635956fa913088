package protocol

// Type is the discriminator carried in every message's "type" field.
type Type string

// Client-originated message types.
const (
	TypeLogin    Type = "login"
	TypeRegister Type = "register"
	TypeMessage  Type = "message" // also used server->client for chat broadcasts
)

// Server-originated message types.
const (
	TypeLoginSuccess     Type = "login_success"
	TypeLoginFailed      Type = "login_failed"
	TypeRegisterSuccess  Type = "register_success"
	TypeRegisterFailed   Type = "register_failed"
	TypeConnectionFailed Type = "connection_failed"
)

// Reasons carried by negative results.
const (
	ReasonInvalidCredentials = "invalid credentials"
	ReasonAlreadyLoggedIn    = "already logged in"
	ReasonUsernameTaken      = "username taken"
	ReasonInternalError      = "internal error"
	ReasonServerFull         = "server full"
)

// Message is one application-level protocol message. Which fields are
// meaningful depends on Type:
//
//	login, register        username, password
//	message (client)       username, message
//	message (server)       username (sender's bound identity), message
//	login_failed           message (reason)
//	register_failed        message (reason, optional)
//	connection_failed      message (reason)
type Message struct {
	Type     Type   `json:"type"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Message  string `json:"message,omitempty"`
}

// FromClient reports whether t is a type a client may send.
func (t Type) FromClient() bool {
	switch t {
	case TypeLogin, TypeRegister, TypeMessage:
		return true
	}
	return false
}

// Login builds a login request.
func Login(username, password string) *Message {
	return &Message{Type: TypeLogin, Username: username, Password: password}
}

// Register builds a registration request.
func Register(username, password string) *Message {
	return &Message{Type: TypeRegister, Username: username, Password: password}
}

// Chat builds a chat message. The server ignores username and uses the
// sender's bound identity instead.
func Chat(username, text string) *Message {
	return &Message{Type: TypeMessage, Username: username, Message: text}
}

// ChatBroadcast builds the message relayed to peers.
func ChatBroadcast(sender, text string) *Message {
	return &Message{Type: TypeMessage, Username: sender, Message: text}
}

func LoginSuccess() *Message { return &Message{Type: TypeLoginSuccess} }

func LoginFailed(reason string) *Message {
	return &Message{Type: TypeLoginFailed, Message: reason}
}

func RegisterSuccess() *Message { return &Message{Type: TypeRegisterSuccess} }

func RegisterFailed(reason string) *Message {
	return &Message{Type: TypeRegisterFailed, Message: reason}
}

func ConnectionFailed(reason string) *Message {
	return &Message{Type: TypeConnectionFailed, Message: reason}
}
