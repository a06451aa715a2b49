package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/atinyakov/HealthSync/internal/models"
)

// PromptPayload asks for a record payload of kind as one line of JSON and
// returns it once it decodes and validates.
func PromptPayload(scanner *bufio.Scanner, out io.Writer, kind models.Kind) (json.RawMessage, error) {
	tmpl, err := kind.NewPayload()
	if err != nil {
		return nil, err
	}
	example, _ := json.Marshal(tmpl)
	fmt.Fprintf(out, "Enter %s as JSON, e.g. %s: ", kind, example)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("no input")
	}
	line := strings.TrimSpace(scanner.Text())

	p, err := models.DecodePayload(kind, json.RawMessage(line))
	if err != nil {
		return nil, err
	}
	return models.EncodePayload(p)
}
