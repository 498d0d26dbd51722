package ledger

type ListRecordsQuery struct {
	Limit      int      `query:"limit" json:"limit,omitempty" default:"20" validate:"min=1,max=100"`
	Offset     int      `query:"offset" json:"offset,omitempty" validate:"min=0"`
	TargetName *string  `query:"target_name" json:"target_name,omitempty"`
	ItemType   *string  `query:"item_type" json:"item_type,omitempty" validate:"omitempty,oneof=page_text todo highlight notebook_metadata"`
	Status     []string `query:"status" json:"status,omitempty" validate:"dive,oneof=pending success failed"`
}
