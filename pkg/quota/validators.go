package quota

type StatusQuery struct {
	QuotaType string `query:"quota_type" json:"quota_type,omitempty" default:"ocr_pages" validate:"oneof=ocr_pages"`
}

type CheckPayload struct {
	QuotaType string `json:"quota_type" default:"ocr_pages" validate:"oneof=ocr_pages"`
	Amount    int    `json:"amount" default:"1" validate:"min=1"`
}
