package delta

import "github.com/bytedance/sonic"

// Subscription asks the server to stream one path.
type Subscription struct {
	Path      string `json:"path"`
	Period    int    `json:"period"`
	Format    string `json:"format"`
	Policy    string `json:"policy"`
	MinPeriod int    `json:"minPeriod"`
}

// SubscribeRequest is sent once after every successful connect.
type SubscribeRequest struct {
	Context   string         `json:"context"`
	Subscribe []Subscription `json:"subscribe"`
}

// Paths returns the subscribed paths in request order.
func (r SubscribeRequest) Paths() []string {
	paths := make([]string, 0, len(r.Subscribe))
	for _, s := range r.Subscribe {
		paths = append(paths, s.Path)
	}
	return paths
}

// Encode returns the JSON text of the request.
func (r SubscribeRequest) Encode() ([]byte, error) {
	return sonic.ConfigFastest.Marshal(r)
}
