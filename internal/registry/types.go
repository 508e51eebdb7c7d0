package registry

import "time"

// Instance is an immutable registered backend, as returned by the
// registry's GetServices call. Consumed by the load balancer and never
// mutated in-gateway.
type Instance struct {
	ID          string    `json:"id"`
	ServiceType string    `json:"serviceType"`
	Host        string    `json:"host"`
	Port        int       `json:"port"`
	Healthy     bool      `json:"healthy"`
	Created     time.Time `json:"created"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Credential is issued once at registration and attached to every
// subsequent registry call. It is replaced wholesale by a successful
// Register and invalidated by any 401 response.
type Credential struct {
	ServiceID string `json:"serviceId"`
	Token     string `json:"token"`
}

// Empty reports whether no credential has been obtained yet.
func (c Credential) Empty() bool {
	return c.ServiceID == "" && c.Token == ""
}
