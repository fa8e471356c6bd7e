// Package protocol defines the JSON messages exchanged with game clients.
// Every message is a flat object whose "type" field selects its shape.
package protocol

import "encoding/json"

// Inbound message types.
const (
	TypeRegister     = "register"
	TypeLogin        = "login"
	TypeRefreshToken = "refresh_token"
	TypeStartGame    = "start_game"
	TypeGameMove     = "gameMove"
	TypeGameEnd      = "gameEnd"
)

// Outbound message types.
const (
	TypeConnected          = "connected"
	TypeRegisterSuccess    = "register_success"
	TypeRegisterFailed     = "register_failed"
	TypeLoginSuccess       = "login_success"
	TypeLoginFailed        = "login_failed"
	TypeRefreshSuccess     = "refresh_success"
	TypeRefreshFailed      = "refresh_failed"
	TypeAccessTokenInvalid = "access_token_invalid"
	TypeGameStart          = "game_start"
	TypeMove               = "move"
)

// Game outcomes as reported by the player sending gameEnd.
const (
	ResultLoss = -1
	ResultDraw = 0
	ResultWin  = 1
)

// ---- client -> server ----

type Register struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	// Photo is base64, optionally as a data URL.
	Photo string `json:"photo,omitempty"`
}

type Login struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RefreshToken struct {
	RefreshToken string `json:"refreshToken"`
}

type StartGame struct {
	Username    string `json:"username"`
	AccessToken string `json:"access_token"`
}

type GameMove struct {
	AccessToken string          `json:"access_token"`
	GameID      string          `json:"gameID"`
	Move        json.RawMessage `json:"move"`
	Username    string          `json:"username"`
}

// GameEnd carries Result as a pointer so a missing field can be told apart from a draw.
type GameEnd struct {
	AccessToken string `json:"access_token"`
	GameID      string `json:"gameID"`
	Username    string `json:"username"`
	Result      *int   `json:"result"`
}

// ---- server -> client ----

type Connected struct {
	Type string `json:"type"`
}

type RegisterSuccess struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type Failure struct {
	Type  string `json:"type"`
	Error string `json:"error,omitempty"`
}

type LoginSuccess struct {
	Type         string `json:"type"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	Photo        string `json:"photo,omitempty"`
}

type RefreshSuccess struct {
	Type         string `json:"type"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type GameStart struct {
	Type   string `json:"type"`
	GameID string `json:"gameID"`
	IsX    bool   `json:"isX"`
}

type Move struct {
	Type string          `json:"type"`
	Move json.RawMessage `json:"move"`
}

func NewConnected() Connected { return Connected{Type: TypeConnected} }

func NewRegisterSuccess() RegisterSuccess {
	return RegisterSuccess{Type: TypeRegisterSuccess, Message: "User registered successfully"}
}

func NewRegisterFailed(reason string) Failure {
	return Failure{Type: TypeRegisterFailed, Error: reason}
}

func NewLoginSuccess(access, refresh, photo string) LoginSuccess {
	return LoginSuccess{Type: TypeLoginSuccess, AccessToken: access, RefreshToken: refresh, Photo: photo}
}

func NewLoginFailed(reason string) Failure {
	return Failure{Type: TypeLoginFailed, Error: reason}
}

func NewRefreshSuccess(access, refresh string) RefreshSuccess {
	return RefreshSuccess{Type: TypeRefreshSuccess, AccessToken: access, RefreshToken: refresh}
}

func NewRefreshFailed() Failure { return Failure{Type: TypeRefreshFailed} }

func NewAccessTokenInvalid() Failure { return Failure{Type: TypeAccessTokenInvalid} }

func NewGameStart(gameID string, isX bool) GameStart {
	return GameStart{Type: TypeGameStart, GameID: gameID, IsX: isX}
}

// NewMove wraps an opaque move payload. The bytes are forwarded as received.
func NewMove(move json.RawMessage) Move {
	if len(move) == 0 {
		move = json.RawMessage("null")
	}
	return Move{Type: TypeMove, Move: move}
}
