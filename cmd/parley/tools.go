package main

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/tailored-agentic-units/parley/core/protocol"
	"github.com/tailored-agentic-units/parley/tools"
)

func registerBuiltinTools(r *tools.Registry) {
	must(r.Register(protocol.Tool{
		Name:        "calculate",
		Description: "Evaluates an arithmetic expression with +, -, *, / and parentheses.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"expression": map[string]any{
					"type":        "string",
					"description": "Expression to evaluate, e.g. \"(2 + 3) * 4\".",
				},
			},
			"required": []string{"expression"},
		},
	}, handleCalculate))

	must(r.Register(protocol.Tool{
		Name:        "current_time",
		Description: "Returns the current date and time, optionally in a named timezone.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"timezone": map[string]any{
					"type":        "string",
					"description": "IANA timezone name such as Europe/Berlin. Defaults to UTC.",
				},
			},
		},
	}, handleCurrentTime))

	must(r.Register(protocol.Tool{
		Name:        "weather_lookup",
		Description: "Looks up current weather conditions for a location.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"location": map[string]any{
					"type":        "string",
					"description": "City or place name.",
				},
			},
			"required": []string{"location"},
		},
	}, handleWeatherLookup))

	must(r.Register(protocol.Tool{
		Name:        "text_analysis",
		Description: "Counts words, characters and sentences in a text.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{
					"type":        "string",
					"description": "Text to analyze.",
				},
			},
			"required": []string{"text"},
		},
	}, handleTextAnalysis))

	must(r.Register(protocol.Tool{
		Name:        "slow_process",
		Description: "Runs a long background computation. Use when asked to demonstrate or test background processing.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"seconds": map[string]any{
					"type":        "number",
					"description": "How long the computation should take. Defaults to 10.",
				},
			},
		},
	}, handleSlowProcess))
}

func must(err error) {
	if err != nil {
		panic(fmt.Sprintf("failed to register tool: %v", err))
	}
}

func handleCalculate(_ context.Context, raw json.RawMessage) (tools.Result, error) {
	var args struct {
		Expression string `json:"expression"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return tools.Result{Content: "invalid arguments: " + err.Error(), IsError: true}, nil
	}
	if strings.TrimSpace(args.Expression) == "" {
		return tools.Result{Content: "expression is required", IsError: true}, nil
	}

	value, err := evalExpression(args.Expression)
	if err != nil {
		return tools.Result{Content: err.Error(), IsError: true}, nil
	}
	return tools.Result{Content: strconv.FormatFloat(value, 'f', -1, 64)}, nil
}

func handleCurrentTime(_ context.Context, raw json.RawMessage) (tools.Result, error) {
	var args struct {
		Timezone string `json:"timezone"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return tools.Result{Content: "invalid arguments: " + err.Error(), IsError: true}, nil
	}

	loc := time.UTC
	if args.Timezone != "" {
		parsed, err := time.LoadLocation(args.Timezone)
		if err != nil {
			return tools.Result{Content: "unknown timezone: " + args.Timezone, IsError: true}, nil
		}
		loc = parsed
	}
	return tools.Result{Content: time.Now().In(loc).Format(time.RFC3339)}, nil
}

// handleWeatherLookup synthesizes stable pseudo-weather from the location
// name. There is no upstream weather API wired yet; the tool exists so tool
// batches have a realistic lookup to exercise.
func handleWeatherLookup(_ context.Context, raw json.RawMessage) (tools.Result, error) {
	var args struct {
		Location string `json:"location"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return tools.Result{Content: "invalid arguments: " + err.Error(), IsError: true}, nil
	}
	if strings.TrimSpace(args.Location) == "" {
		return tools.Result{Content: "location is required", IsError: true}, nil
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(args.Location))))
	seed := h.Sum32()

	conditions := []string{"clear", "partly cloudy", "overcast", "light rain", "windy"}
	temp := int(seed%35) - 5
	cond := conditions[seed%uint32(len(conditions))]
	humidity := 40 + seed%55

	return tools.Result{Content: fmt.Sprintf(
		"%s: %s, %d°C, humidity %d%%", args.Location, cond, temp, humidity,
	)}, nil
}

func handleTextAnalysis(_ context.Context, raw json.RawMessage) (tools.Result, error) {
	var args struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return tools.Result{Content: "invalid arguments: " + err.Error(), IsError: true}, nil
	}

	words := len(strings.Fields(args.Text))
	chars := len([]rune(args.Text))
	sentences := 0
	for _, r := range args.Text {
		if r == '.' || r == '!' || r == '?' {
			sentences++
		}
	}

	return tools.Result{Content: fmt.Sprintf(
		"words: %d, characters: %d, sentences: %d", words, chars, sentences,
	)}, nil
}

func handleSlowProcess(ctx context.Context, raw json.RawMessage) (tools.Result, error) {
	var args struct {
		Seconds float64 `json:"seconds"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return tools.Result{Content: "invalid arguments: " + err.Error(), IsError: true}, nil
	}
	if args.Seconds <= 0 {
		args.Seconds = 10
	}

	select {
	case <-time.After(time.Duration(args.Seconds * float64(time.Second))):
		return tools.Result{Content: fmt.Sprintf("processing finished after %.1f seconds", args.Seconds)}, nil
	case <-ctx.Done():
		return tools.Result{}, ctx.Err()
	}
}

// evalExpression evaluates +, -, *, / and parentheses with a small
// recursive-descent parser over float64.
func evalExpression(input string) (float64, error) {
	p := &exprParser{input: input}
	value, err := p.parseSum()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.input) {
		return 0, fmt.Errorf("unexpected character %q at position %d", p.input[p.pos], p.pos)
	}
	return value, nil
}

type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.input) && unicode.IsSpace(rune(p.input[p.pos])) {
		p.pos++
	}
}

func (p *exprParser) parseSum() (float64, error) {
	value, err := p.parseProduct()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			return value, nil
		}
		switch p.input[p.pos] {
		case '+':
			p.pos++
			rhs, err := p.parseProduct()
			if err != nil {
				return 0, err
			}
			value += rhs
		case '-':
			p.pos++
			rhs, err := p.parseProduct()
			if err != nil {
				return 0, err
			}
			value -= rhs
		default:
			return value, nil
		}
	}
}

func (p *exprParser) parseProduct() (float64, error) {
	value, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			return value, nil
		}
		switch p.input[p.pos] {
		case '*':
			p.pos++
			rhs, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			value *= rhs
		case '/':
			p.pos++
			rhs, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			if rhs == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			value /= rhs
		default:
			return value, nil
		}
	}
}

func (p *exprParser) parseUnary() (float64, error) {
	p.skipSpace()
	if p.pos < len(p.input) && p.input[p.pos] == '-' {
		p.pos++
		value, err := p.parseUnary()
		return -value, err
	}
	return p.parseAtom()
}

func (p *exprParser) parseAtom() (float64, error) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0, fmt.Errorf("unexpected end of expression")
	}

	if p.input[p.pos] == '(' {
		p.pos++
		value, err := p.parseSum()
		if err != nil {
			return 0, err
		}
		p.skipSpace()
		if p.pos >= len(p.input) || p.input[p.pos] != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return value, nil
	}

	start := p.pos
	for p.pos < len(p.input) && (isDigit(p.input[p.pos]) || p.input[p.pos] == '.') {
		p.pos++
	}
	if start == p.pos {
		return 0, fmt.Errorf("unexpected character %q at position %d", p.input[p.pos], p.pos)
	}
	return strconv.ParseFloat(p.input[start:p.pos], 64)
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
