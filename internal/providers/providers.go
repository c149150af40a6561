package providers

import "context"

// State is the lifecycle state of a cloud instance as far as the fleet cares.
type State string

const (
	StatePending    State = "pending"
	StateRunning    State = "running"
	StateTerminated State = "terminated"
	StateOther      State = "other"
)

// InstanceRecord is an immutable snapshot of one instance from a single query.
// Address is empty while the provider has not assigned a public address yet.
type InstanceRecord struct {
	ID      string
	Address string
	State   State
	// Group is the provider's grouping unit (an EC2 reservation). Providers
	// without such a concept put every instance in one group.
	Group string
}

type CreateRequest struct {
	Fleet     string
	Count     int
	Region    string
	Image     string
	Size      string
	KeyName   string
	SpotPrice string
	SSHUser   string
	SSHKey    string
}

// Provider is the cloud API surface the orchestrator consumes.
type Provider interface {
	Name() string
	ListInstances(ctx context.Context, fleet string) ([]InstanceRecord, error)
	CreateInstances(ctx context.Context, req CreateRequest) ([]InstanceRecord, error)
	TerminateInstances(ctx context.Context, ids []string) error
}

// Diagnoser is implemented by providers that can report network access
// problems for a fleet, such as a security group without inbound SSH.
type Diagnoser interface {
	Diagnose(ctx context.Context, fleet string) ([]Finding, error)
}

type Finding struct {
	Subject string
	OK      bool
	Detail  string
}

// GroupByReservation splits records by Group, keeping first-seen group order
// and record order inside each group.
func GroupByReservation(records []InstanceRecord) ([]string, map[string][]InstanceRecord) {
	var order []string
	groups := map[string][]InstanceRecord{}
	for _, r := range records {
		if _, ok := groups[r.Group]; !ok {
			order = append(order, r.Group)
		}
		groups[r.Group] = append(groups[r.Group], r)
	}
	return order, groups
}
