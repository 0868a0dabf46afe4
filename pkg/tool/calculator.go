package tool

import (
	"context"
	"strconv"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// CalculatorName is the function name for arithmetic
const CalculatorName = "calculator"

// Calculator evaluates basic arithmetic so the model does not guess at math
type Calculator struct{}

// NewCalculator creates the calculator tool
func NewCalculator() *Calculator {
	return &Calculator{}
}

func (t *Calculator) Spec() *genai.Tool {
	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        CalculatorName,
				Description: "Performs basic arithmetic. Always use this for math instead of computing in your head.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"a": {
							Type:        genai.TypeNumber,
							Description: "First operand",
						},
						"b": {
							Type:        genai.TypeNumber,
							Description: "Second operand",
						},
						"operation": {
							Type:        genai.TypeString,
							Description: "Arithmetic operation to apply",
							Enum:        []string{"add", "subtract", "multiply", "divide"},
						},
					},
					Required: []string{"a", "b", "operation"},
				},
			},
		},
	}
}

func (t *Calculator) Prompt(ctx context.Context) string {
	return ""
}

func (t *Calculator) Execute(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error) {
	a, err := numberArg(fc.Args, "a")
	if err != nil {
		return nil, err
	}
	b, err := numberArg(fc.Args, "b")
	if err != nil {
		return nil, err
	}
	op, _ := fc.Args["operation"].(string)

	var result float64
	switch op {
	case "add":
		result = a + b
	case "subtract":
		result = a - b
	case "multiply":
		result = a * b
	case "divide":
		if b == 0 {
			return response(fc, "Error: division by zero"), nil
		}
		result = a / b
	default:
		return nil, goerr.New("unknown calculator operation", goerr.V("operation", op))
	}

	return response(fc, strconv.FormatFloat(result, 'f', -1, 64)), nil
}

func numberArg(args map[string]any, key string) (float64, error) {
	switch v := args[key].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, goerr.Wrap(err, "calculator argument is not a number", goerr.V("key", key))
		}
		return f, nil
	default:
		return 0, goerr.New("calculator argument missing", goerr.V("key", key))
	}
}
