package tool

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Digits, whitespace, decimal points, operators and parentheses only.
var priceExpressionPattern = regexp.MustCompile(`^[\d\s\+\-\*/%\(\)\.]+$`)

var priceNoise = strings.NewReplacer(",", "", "₩", "", "원", "", "won", "", "KRW", "")

type PriceQuote struct {
	Expression string  `json:"expression"`
	Total      float64 `json:"total"`
}

func calculatePrice(args map[string]any) (any, error) {
	raw, err := stringArg(args, "expression")
	if err != nil {
		return nil, err
	}
	expr := strings.TrimSpace(priceNoise.Replace(raw))
	if err := validatePriceExpression(expr); err != nil {
		return nil, err
	}

	total, err := evaluatePrice(expr)
	if err != nil {
		return nil, err
	}
	if math.IsInf(total, 0) || math.IsNaN(total) {
		return nil, fmt.Errorf("expression does not evaluate to a finite price")
	}
	return PriceQuote{Expression: expr, Total: math.Round(total*100) / 100}, nil
}

func validatePriceExpression(expr string) error {
	if expr == "" {
		return fmt.Errorf("expression is empty")
	}
	if !priceExpressionPattern.MatchString(expr) {
		return fmt.Errorf("expression contains invalid characters")
	}
	depth := 0
	for _, ch := range expr {
		switch ch {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return fmt.Errorf("expression has unbalanced parentheses")
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("expression has unbalanced parentheses")
	}
	return nil
}

func evaluatePrice(expr string) (float64, error) {
	p := &priceParser{src: expr}
	v, err := p.sum()
	if err != nil {
		return 0, err
	}
	p.skipSpaces()
	if !p.done() {
		return 0, fmt.Errorf("unexpected token at position %d", p.pos)
	}
	return v, nil
}

// priceParser is a recursive-descent evaluator:
//
//	sum     = product { ("+" | "-") product }
//	product = unary { ("*" | "/" | "%") unary }
//	unary   = [ "+" | "-" ] unary | "(" sum ")" | number
type priceParser struct {
	src string
	pos int
}

func (p *priceParser) sum() (float64, error) {
	left, err := p.product()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpaces()
		switch {
		case p.accept('+'):
			right, err := p.product()
			if err != nil {
				return 0, err
			}
			left += right
		case p.accept('-'):
			right, err := p.product()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

func (p *priceParser) product() (float64, error) {
	left, err := p.unary()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpaces()
		var op byte
		switch {
		case p.accept('*'):
			op = '*'
		case p.accept('/'):
			op = '/'
		case p.accept('%'):
			op = '%'
		default:
			return left, nil
		}
		right, err := p.unary()
		if err != nil {
			return 0, err
		}
		switch op {
		case '*':
			left *= right
		case '/':
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		case '%':
			// percentage of the left operand, e.g. 30000 % 10 is a 10% surcharge amount
			left = left * right / 100
		}
	}
}

func (p *priceParser) unary() (float64, error) {
	p.skipSpaces()
	switch {
	case p.accept('+'):
		return p.unary()
	case p.accept('-'):
		v, err := p.unary()
		return -v, err
	case p.accept('('):
		v, err := p.sum()
		if err != nil {
			return 0, err
		}
		p.skipSpaces()
		if !p.accept(')') {
			return 0, fmt.Errorf("missing closing parenthesis at position %d", p.pos)
		}
		return v, nil
	}
	return p.number()
}

func (p *priceParser) number() (float64, error) {
	start := p.pos
	for !p.done() && (p.src[p.pos] == '.' || (p.src[p.pos] >= '0' && p.src[p.pos] <= '9')) {
		p.pos++
	}
	if start == p.pos {
		return 0, fmt.Errorf("expected number at position %d", start)
	}
	v, err := strconv.ParseFloat(p.src[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", p.src[start:p.pos])
	}
	return v, nil
}

func (p *priceParser) skipSpaces() {
	for !p.done() && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *priceParser) done() bool {
	return p.pos >= len(p.src)
}

func (p *priceParser) accept(ch byte) bool {
	if !p.done() && p.src[p.pos] == ch {
		p.pos++
		return true
	}
	return false
}
