package tool_test

import (
	"context"
	"testing"

	"github.com/knowhq/sable/pkg/tool"
	"github.com/m-mizutani/gt"
	"google.golang.org/genai"
)

func calcCall(a, b any, op string) genai.FunctionCall {
	return genai.FunctionCall{
		ID:   "call-1",
		Name: tool.CalculatorName,
		Args: map[string]any{"a": a, "b": b, "operation": op},
	}
}

func TestCalculatorOperations(t *testing.T) {
	calc := tool.NewCalculator()

	cases := []struct {
		name   string
		a, b   float64
		op     string
		expect string
	}{
		{"add", 2, 3, "add", "5"},
		{"subtract", 10, 4, "subtract", "6"},
		{"multiply", 6, 7, "multiply", "42"},
		{"divide", 9, 2, "divide", "4.5"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := calc.Execute(context.Background(), calcCall(tc.a, tc.b, tc.op))
			gt.NoError(t, err)
			result, ok := resp.Response["result"].(string)
			gt.True(t, ok)
			gt.Equal(t, result, tc.expect)
		})
	}
}

func TestCalculatorDivideByZero(t *testing.T) {
	calc := tool.NewCalculator()

	resp, err := calc.Execute(context.Background(), calcCall(8, 0, "divide"))
	gt.NoError(t, err)
	gt.Equal(t, resp.Response["result"], "Error: division by zero")
}

func TestCalculatorStringOperands(t *testing.T) {
	calc := tool.NewCalculator()

	// Models sometimes send numbers as strings
	resp, err := calc.Execute(context.Background(), calcCall("3", "4", "add"))
	gt.NoError(t, err)
	gt.Equal(t, resp.Response["result"], "7")
}

func TestCalculatorUnknownOperation(t *testing.T) {
	calc := tool.NewCalculator()

	_, err := calc.Execute(context.Background(), calcCall(1, 2, "modulo"))
	gt.Error(t, err)
}

func TestCalculatorMissingOperand(t *testing.T) {
	calc := tool.NewCalculator()

	_, err := calc.Execute(context.Background(), genai.FunctionCall{
		Name: tool.CalculatorName,
		Args: map[string]any{"a": 1.0, "operation": "add"},
	})
	gt.Error(t, err)
}

func TestCalculatorResponseEchoesCall(t *testing.T) {
	calc := tool.NewCalculator()

	resp, err := calc.Execute(context.Background(), calcCall(1, 1, "add"))
	gt.NoError(t, err)
	gt.Equal(t, resp.ID, "call-1")
	gt.Equal(t, resp.Name, tool.CalculatorName)
}
