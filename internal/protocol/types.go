package protocol

const (
	// MaxRequestSize bounds one request read.
	MaxRequestSize = 4096
	// ResponseSize is the fixed length of every response.
	ResponseSize = 4
	// DefaultTemperature is used when a request carries no usable temperature (Celsius).
	DefaultTemperature = 25.0
	// Sentinel is the response value sent for any computation failure.
	Sentinel float32 = 0.0

	// RequestPrefix and RequestSuffix are the artifact characters that frame
	// every request body. Only their lengths matter to the parser.
	RequestPrefix = "b'"
	RequestSuffix = "'"

	separator = ","
)

// Request is one parsed dG query.
type Request struct {
	Sequence    string
	Temperature float64
}
