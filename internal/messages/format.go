package messages

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/charlesng35/walletrecovery/internal/chain"
)

const (
	// NearSymbol is appended to every formatted amount.
	NearSymbol = "Ⓝ"
	// SMSArgsLimit is the longest args rendering kept in SMS bodies before the ellipsis.
	SMSArgsLimit = 247

	nominationExp   = 24
	amountFracDigit = 4
)

// FormatAmount renders a yocto amount as a human value with up to four decimals and the NEAR symbol.
// Values that are not integers are returned unchanged.
func FormatAmount(yocto string) string {
	yocto = strings.TrimSpace(yocto)
	value, err := decimal.NewFromString(yocto)
	if err != nil || !value.Equal(value.Truncate(0)) {
		return yocto
	}

	fixed := value.Shift(-nominationExp).Round(amountFracDigit).StringFixed(amountFracDigit)
	whole, frac, _ := strings.Cut(fixed, ".")
	negative := strings.HasPrefix(whole, "-")
	whole = strings.TrimPrefix(whole, "-")

	out := groupThousands(whole)
	if frac = strings.TrimRight(frac, "0"); frac != "" {
		out += "." + frac
	}
	if negative {
		out = "-" + out
	}
	return out + NearSymbol
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

type renderOptions struct {
	escape   bool
	truncate bool
}

var (
	smsRender   = renderOptions{truncate: true}
	htmlRender  = renderOptions{escape: true}
	plainRender = renderOptions{}
)

func renderFor(forSMS bool) renderOptions {
	if forSMS {
		return smsRender
	}
	return htmlRender
}

// FormatArgs renders base64 call arguments. JSON objects are re-serialised with amount and deposit
// formatted and moved to the front; anything that is not JSON is hex dumped. SMS output is cut to
// SMSArgsLimit characters plus an ellipsis.
func FormatArgs(encoded string, forSMS bool) string {
	return formatArgs(encoded, renderFor(forSMS))
}

func formatArgs(encoded string, opts renderOptions) string {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		raw = []byte(encoded)
	}

	out, err := reorderJSON(raw)
	if err != nil {
		out = hex.Dump(raw)
	}

	if opts.truncate && utf8.RuneCountInString(out) > SMSArgsLimit {
		runes := []rune(out)
		out = string(runes[:SMSArgsLimit]) + "..."
	}
	return out
}

var errNotJSON = errors.New("messages: not json")

type member struct {
	key   string
	value json.RawMessage
}

// reorderJSON compacts a JSON document. For objects, amount and deposit come first
// (formatted) and every other member keeps its original position.
func reorderJSON(raw []byte) (string, error) {
	if !utf8.Valid(raw) || !json.Valid(raw) {
		return "", errNotJSON
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return "", err
		}
		return buf.String(), nil
	}

	var members []member
	index := map[string]int{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return "", err
		}
		key, ok := keyTok.(string)
		if !ok {
			return "", errNotJSON
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return "", err
		}
		if i, seen := index[key]; seen {
			members[i].value = value
			continue
		}
		index[key] = len(members)
		members = append(members, member{key: key, value: value})
	}
	if _, err := dec.Token(); err != nil {
		return "", err
	}
	if _, err := dec.Token(); err != io.EOF {
		return "", errNotJSON
	}

	ordered := make([]member, 0, len(members))
	for _, name := range []string{"amount", "deposit"} {
		if i, ok := index[name]; ok {
			ordered = append(ordered, member{key: name, value: formatAmountValue(members[i].value)})
		}
	}
	for _, m := range members {
		if m.key == "amount" || m.key == "deposit" {
			continue
		}
		ordered = append(ordered, m)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range ordered {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(encodeString(m.key))
		buf.WriteByte(':')
		if err := json.Compact(&buf, m.value); err != nil {
			return "", err
		}
	}
	buf.WriteByte('}')
	return buf.String(), nil
}

// formatAmountValue formats numeric strings and numbers; other values pass through untouched.
func formatAmountValue(value json.RawMessage) json.RawMessage {
	var text string
	if err := json.Unmarshal(value, &text); err != nil {
		var number json.Number
		if err := json.Unmarshal(value, &number); err != nil {
			return value
		}
		text = number.String()
	}
	formatted := FormatAmount(text)
	if formatted == strings.TrimSpace(text) {
		return value
	}
	return json.RawMessage(encodeString(formatted))
}

func encodeString(value string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(value)
	return strings.TrimSuffix(buf.String(), "\n")
}

// FormatAction renders one multisig action as a sentence. Interpolated values are HTML-escaped
// unless the output is for SMS.
func FormatAction(receiverID string, action chain.Action, forSMS bool) string {
	return formatAction(receiverID, action, renderFor(forSMS))
}

func formatAction(receiverID string, action chain.Action, opts renderOptions) string {
	esc := func(value string) string {
		if opts.escape {
			return html.EscapeString(value)
		}
		return value
	}

	switch action.Type {
	case chain.ActionFunctionCall:
		deposit := action.Deposit
		if deposit == "" {
			deposit = "0"
		}
		amount := FormatAmount(deposit)
		return fmt.Sprintf("Calling method: %s in contract: %s with amount %s and with args %s",
			esc(action.MethodName), esc(receiverID), esc(amount), esc(formatArgs(action.Args, opts)))
	case chain.ActionTransfer:
		return fmt.Sprintf("Transferring %s to: %s", esc(FormatAmount(action.Amount)), esc(receiverID))
	case chain.ActionStake:
		return fmt.Sprintf("Staking: %s to validator: %s", esc(FormatAmount(action.Amount)), esc(receiverID))
	case chain.ActionAddKey:
		if action.Permission == nil {
			return fmt.Sprintf("Adding key %s with FULL ACCESS to account", esc(action.PublicKey))
		}
		methods := "any method"
		if len(action.Permission.MethodNames) > 0 {
			methods = strings.Join(action.Permission.MethodNames, ", ") + " methods"
		}
		allowance := "unlimited"
		if action.Permission.Allowance != nil && *action.Permission.Allowance != "" {
			allowance = FormatAmount(*action.Permission.Allowance)
		}
		return fmt.Sprintf("Adding key %s limited to call %s on %s and spend up to %s on gas",
			esc(action.PublicKey), esc(methods), esc(action.Permission.ReceiverID), esc(allowance))
	case chain.ActionDeleteKey:
		return fmt.Sprintf("Deleting key %s", esc(action.PublicKey))
	default:
		return fmt.Sprintf("Unrecognized action type: %s", esc(action.Type))
	}
}

// FormatRequest renders every action of a pending request, one sentence per action.
func FormatRequest(request *chain.PendingRequest, forSMS bool) []string {
	return formatRequest(request, renderFor(forSMS))
}

func formatRequest(request *chain.PendingRequest, opts renderOptions) []string {
	if request == nil {
		return nil
	}
	lines := make([]string, 0, len(request.Actions))
	for _, action := range request.Actions {
		lines = append(lines, formatAction(request.ReceiverID, action, opts))
	}
	return lines
}
