// Package resp implements the small subset of the redis serialization
// protocol needed by the clustertest mock nodes: decoding client
// requests and encoding reply values.
package resp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Error is a protocol error reply (e.g. "MOVED 1234 127.0.0.1:7001").
// Returning an Error from a mock node handler sends it as an error
// reply to the client.
type Error string

func (e Error) Error() string {
	return string(e)
}

var errMalformed = errors.New("resp: malformed request")

// DecodeRequest reads a single client request, an array of bulk
// strings, and returns it as the command name followed by its
// arguments.
func DecodeRequest(br *bufio.Reader) ([]string, error) {
	line, err := readLine(br)
	if err != nil {
		return nil, err
	}
	if len(line) < 2 || line[0] != '*' {
		return nil, errMalformed
	}
	n, err := strconv.Atoi(line[1:])
	if err != nil || n < 1 {
		return nil, errMalformed
	}

	req := make([]string, n)
	for i := 0; i < n; i++ {
		line, err = readLine(br)
		if err != nil {
			return nil, err
		}
		if len(line) < 2 || line[0] != '$' {
			return nil, errMalformed
		}
		size, err := strconv.Atoi(line[1:])
		if err != nil || size < 0 {
			return nil, errMalformed
		}

		arg := make([]byte, size+2)
		if _, err := io.ReadFull(br, arg); err != nil {
			return nil, err
		}
		if arg[size] != '\r' || arg[size+1] != '\n' {
			return nil, errMalformed
		}
		req[i] = string(arg[:size])
	}
	return req, nil
}

func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", err
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return "", errMalformed
	}
	return line[:len(line)-2], nil
}

// Encode writes v as a redis protocol reply. Supported types are
// Error, string (simple string), []byte (bulk string), int and int64
// (integer), nil (null bulk string) and []interface{} (array, encoded
// recursively).
func Encode(w io.Writer, v interface{}) error {
	switch v := v.(type) {
	case nil:
		_, err := io.WriteString(w, "$-1\r\n")
		return err
	case Error:
		_, err := fmt.Fprintf(w, "-%s\r\n", string(v))
		return err
	case string:
		_, err := fmt.Fprintf(w, "+%s\r\n", v)
		return err
	case []byte:
		if _, err := fmt.Fprintf(w, "$%d\r\n", len(v)); err != nil {
			return err
		}
		if _, err := w.Write(v); err != nil {
			return err
		}
		_, err := io.WriteString(w, "\r\n")
		return err
	case int:
		_, err := fmt.Fprintf(w, ":%d\r\n", v)
		return err
	case int64:
		_, err := fmt.Fprintf(w, ":%d\r\n", v)
		return err
	case []interface{}:
		if _, err := fmt.Fprintf(w, "*%d\r\n", len(v)); err != nil {
			return err
		}
		for _, item := range v {
			if err := Encode(w, item); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("resp: unsupported reply type %T", v)
	}
}
