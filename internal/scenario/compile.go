package scenario

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ecamuto/LoadSpiker/internal/assert"
	"github.com/ecamuto/LoadSpiker/internal/datasource"
	"github.com/ecamuto/LoadSpiker/internal/protocol"
	"github.com/ecamuto/LoadSpiker/internal/session"
)

// CompiledOp is one operation ready for the worker loop. When PreFailed is
// non-nil, the worker must record it directly without dispatching to a
// protocol driver — this is how a compilation error surfaces, per the
// "failed first operation" policy.
type CompiledOp struct {
	Op         protocol.Operation
	PreFailed  *protocol.Outcome
	Extract    []session.ExtractionRule
	Assertions []assert.ResponseAssertion
}

// Compile resolves one data row per attached source, then substitutes
// ${source.field} and ${var} placeholders into each operation template in
// order, returning a concrete operation list. Compilation never aborts the
// worker: an unknown data source surfaces as a single pre-failed operation
// instead of an error.
func Compile(tmpl *Template, vuID int, dsm *datasource.Manager, store *session.Store) []CompiledOp {
	rows, vars, preFailed := resolveContext(tmpl, vuID, dsm, store)
	if preFailed != nil {
		return preFailed
	}
	return compileList(tmpl.Operations, rows, vars)
}

// CompileAll resolves data-source rows once and compiles a VU iteration's
// setup hooks, main operations, and teardown hooks against that shared
// context, so ${source.field} placeholders agree across all three lists. A
// data-source lookup failure surfaces as a single pre-failed main operation,
// with empty setup/teardown lists, rather than killing the worker.
func CompileAll(tmpl *Template, vuID int, dsm *datasource.Manager, store *session.Store) (setup, ops, teardown []CompiledOp) {
	rows, vars, preFailed := resolveContext(tmpl, vuID, dsm, store)
	if preFailed != nil {
		return nil, preFailed, nil
	}
	return compileList(tmpl.Setup, rows, vars), compileList(tmpl.Operations, rows, vars), compileList(tmpl.Teardown, rows, vars)
}

func resolveContext(tmpl *Template, vuID int, dsm *datasource.Manager, store *session.Store) (map[string]datasource.Row, map[string]any, []CompiledOp) {
	rows := make(map[string]datasource.Row, len(tmpl.Sources))
	for _, name := range tmpl.Sources {
		row, err := dsm.GetRow(vuID, name)
		if err != nil {
			return nil, nil, []CompiledOp{{PreFailed: &protocol.Outcome{
				Success: false,
				Error:   protocol.ErrInvalidInput,
				ProtocolData: map[string]any{
					"compile_error": fmt.Sprintf("data source %q: %v", name, err),
				},
			}}}
		}
		rows[name] = row
	}

	vars := store.Variables()
	for k, v := range tmpl.InitialVariables {
		if _, ok := vars[k]; !ok {
			vars[k] = v
		}
	}

	return rows, vars, nil
}

func compileList(templates []OperationTemplate, rows map[string]datasource.Row, vars map[string]any) []CompiledOp {
	ops := make([]CompiledOp, 0, len(templates))
	for _, t := range templates {
		ops = append(ops, CompiledOp{
			Op:         resolveOperation(t, rows, vars),
			Extract:    t.Extract,
			Assertions: t.Assertions,
		})
	}
	return ops
}

func resolveOperation(t OperationTemplate, rows map[string]datasource.Row, vars map[string]any) protocol.Operation {
	op := protocol.Operation{Kind: t.Kind}

	if t.HTTP != nil {
		headers := make(map[string]string, len(t.HTTP.Headers))
		for k, v := range t.HTTP.Headers {
			headers[k] = substitute(v, rows, vars)
		}
		op.HTTP = &protocol.HTTPParams{
			URL:     substitute(t.HTTP.URL, rows, vars),
			Method:  t.HTTP.Method,
			Headers: headers,
			Body:    []byte(substitute(string(t.HTTP.Body), rows, vars)),
			Timeout: t.HTTP.Timeout,
		}
	}
	if t.WS != nil {
		op.WS = &protocol.WSParams{
			URL:     substitute(t.WS.URL, rows, vars),
			Message: substitute(t.WS.Message, rows, vars),
			Timeout: t.WS.Timeout,
		}
	}
	if t.TCP != nil {
		op.TCP = &protocol.TCPParams{
			Host:    substitute(t.TCP.Host, rows, vars),
			Port:    t.TCP.Port,
			Data:    []byte(substitute(t.TCP.Data, rows, vars)),
			Timeout: t.TCP.Timeout,
		}
	}
	if t.UDP != nil {
		op.UDP = &protocol.UDPParams{
			Host:    substitute(t.UDP.Host, rows, vars),
			Port:    t.UDP.Port,
			Data:    []byte(substitute(t.UDP.Data, rows, vars)),
			Timeout: t.UDP.Timeout,
		}
	}
	if t.MQTT != nil {
		op.MQTT = &protocol.MQTTParams{
			Broker:    substitute(t.MQTT.Broker, rows, vars),
			Port:      t.MQTT.Port,
			ClientID:  substitute(t.MQTT.ClientID, rows, vars),
			Username:  substitute(t.MQTT.Username, rows, vars),
			Password:  substitute(t.MQTT.Password, rows, vars),
			KeepAlive: t.MQTT.KeepAlive,
			Topic:     substitute(t.MQTT.Topic, rows, vars),
			Payload:   []byte(substitute(string(t.MQTT.Payload), rows, vars)),
			QoS:       t.MQTT.QoS,
			Retain:    t.MQTT.Retain,
			Timeout:   t.MQTT.Timeout,
		}
	}
	if t.DB != nil {
		op.DB = &protocol.DBParams{
			ConnString: substitute(t.DB.ConnString, rows, vars),
			Kind:       t.DB.Kind,
			Query:      substitute(t.DB.Query, rows, vars),
			Timeout:    t.DB.Timeout,
		}
	}

	return op
}

// substitute walks s left to right, replacing ${...} placeholders.
// Resolution order per token: source.field first (dotted keys), then
// scenario variables. An unresolvable placeholder is left in the output
// literally rather than dropped silently.
func substitute(s string, rows map[string]datasource.Row, vars map[string]any) string {
	if !strings.Contains(s, "${") {
		return s
	}

	var b strings.Builder
	i := 0
	for i < len(s) {
		start := strings.Index(s[i:], "${")
		if start < 0 {
			b.WriteString(s[i:])
			break
		}
		start += i
		b.WriteString(s[i:start])

		end := strings.IndexByte(s[start:], '}')
		if end < 0 {
			b.WriteString(s[start:])
			break
		}
		end += start

		key := s[start+2 : end]
		if value, ok := resolvePlaceholder(key, rows, vars); ok {
			b.WriteString(formatValue(value))
		} else {
			b.WriteString(s[start : end+1])
		}
		i = end + 1
	}
	return b.String()
}

func resolvePlaceholder(key string, rows map[string]datasource.Row, vars map[string]any) (any, bool) {
	if dot := strings.IndexByte(key, '.'); dot >= 0 {
		source, field := key[:dot], key[dot+1:]
		row, ok := rows[source]
		if !ok {
			return nil, false
		}
		value, ok := row[field]
		return value, ok
	}

	value, ok := vars[key]
	return value, ok
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
