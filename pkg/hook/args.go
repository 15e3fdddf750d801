package hook

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cuemby/hookio/pkg/types"
)

const flagPrefix = "--hook-"

// CLIArgs renders a spawn spec as the argument list of an out-of-process
// child: --hook-host, --hook-port, --hook-name and --hook-type followed by
// --key value for every extra option in key order. Object values are
// JSON encoded.
func CLIArgs(spec types.SpawnSpec) []string {
	args := []string{
		flagPrefix + "host", spec.Host,
		flagPrefix + "port", strconv.Itoa(spec.Port),
		flagPrefix + "name", spec.Name,
		flagPrefix + "type", spec.Type,
	}

	keys := make([]string, 0, len(spec.Extra))
	for k := range spec.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		args = append(args, "--"+k, argValue(spec.Extra[k]))
	}
	return args
}

func argValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return "null"
	case fmt.Stringer:
		return val.String()
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}

// ParseArgs reads an argument list produced by CLIArgs back into a spec.
// Values that look like JSON objects or arrays are decoded; a flag with no
// value is true.
func ParseArgs(args []string) (types.SpawnSpec, error) {
	var spec types.SpawnSpec

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") || len(arg) == 2 {
			return spec, fmt.Errorf("unexpected argument %q", arg)
		}
		key := strings.TrimPrefix(arg, "--")

		var value string
		hasValue := false
		if eq := strings.IndexByte(key, '='); eq >= 0 {
			key, value, hasValue = key[:eq], key[eq+1:], true
		} else if i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
			value, hasValue = args[i+1], true
			i++
		}

		switch key {
		case "hook-host":
			spec.Host = value
		case "hook-port":
			port, err := strconv.Atoi(value)
			if err != nil {
				return spec, fmt.Errorf("invalid --hook-port %q: %w", value, err)
			}
			spec.Port = port
		case "hook-name":
			spec.Name = value
		case "hook-type":
			spec.Type = value
		default:
			if spec.Extra == nil {
				spec.Extra = make(map[string]any)
			}
			if !hasValue {
				spec.Extra[key] = true
				continue
			}
			spec.Extra[key] = parseValue(value)
		}
	}
	return spec, nil
}

func parseValue(s string) any {
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v
		}
	}
	return s
}
