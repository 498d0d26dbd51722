package syncqueue

type ListTicketsQuery struct {
	Limit    int      `query:"limit" json:"limit,omitempty" default:"50" validate:"min=1,max=200"`
	Offset   int      `query:"offset" json:"offset,omitempty" default:"0" validate:"min=0"`
	Statuses []string `query:"status" json:"status,omitempty" validate:"dive,oneof=queued in_flight done dead"`
}
