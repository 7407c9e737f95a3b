// Package engine runs an embedded analytical SQL engine inside an isolated
// worker goroutine, brokered through an asynchronous request/response
// protocol keyed by correlation ids. The bridge is the only holder of the
// engine session; callers get a promise-style Init/Query/Register interface.
package engine

// RequestType enumerates the operations understood by the worker.
type RequestType string

const (
	TypeInit     RequestType = "init"
	TypeQuery    RequestType = "query"
	TypeRegister RequestType = "register"
)

// Request is one message sent to the worker. Every request carries a unique
// correlation id; the worker echoes it on exactly one response.
type Request struct {
	ID       string           `json:"id"`
	Type     RequestType      `json:"type"`
	SQL      string           `json:"sql,omitempty"`
	Register *RegisterPayload `json:"register,omitempty"`
}

// RegisterPayload describes a table registration: create-if-absent and
// append. Row values are opaque text.
type RegisterPayload struct {
	Table   string     `json:"table"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Response is the worker's answer to one request. Errors travel as data in
// the Error field — never as a panic across the channel boundary.
type Response struct {
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Columns []string        `json:"columns,omitempty"`
	Rows    [][]interface{} `json:"rows,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func okResponse(id string, columns []string, rows [][]interface{}) Response {
	return Response{ID: id, OK: true, Columns: columns, Rows: rows}
}

func errResponse(id string, msg string) Response {
	return Response{ID: id, OK: false, Error: msg}
}
