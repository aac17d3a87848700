package http

// RegisterChannelRequestDTO is the body of POST /admin/channels.
type RegisterChannelRequestDTO struct {
	TenantID           string `json:"tenant_id" validate:"required,max=128"`
	PhoneNumber        string `json:"phone_number" validate:"required,min=8,max=32"`
	Provider           string `json:"provider" validate:"required,oneof=meta greenapi legacy"`
	ProviderInstanceID string `json:"provider_instance_id" validate:"required,max=128"`
	ConnectionStatus   string `json:"connection_status" validate:"omitempty,oneof=connected disconnected error"`
	FallbackProvider   string `json:"fallback_provider" validate:"omitempty,oneof=meta greenapi legacy"`
	FallbackInstanceID string `json:"fallback_instance_id" validate:"required_with=FallbackProvider,max=128"`
	FallbackEnabled    bool   `json:"fallback_enabled"`
}

type UpdateStatusRequestDTO struct {
	Status string `json:"status" validate:"required,oneof=connected disconnected error"`
}

type InvalidateResponseDTO struct {
	TenantID    string `json:"tenant_id"`
	Invalidated bool   `json:"invalidated"`
}
