package dto

type StudentResponse struct {
	TokenNo   string `json:"token_no"`
	Name      string `json:"name"`
	PhotoKey  string `json:"photo_key,omitempty"`
	CreatedAt string `json:"created_at"`
}

type RegisterStudentResponse struct {
	StudentResponse
	// Confidence of the face detection in the enrollment photo.
	Confidence float32 `json:"confidence"`
}

type UpdateStudentRequest struct {
	Name string `json:"name" binding:"required"`
}

type StudentListResponse struct {
	Students []StudentResponse `json:"students"`
	Total    int               `json:"total"`
}

// SearchMatch is one nearest-neighbor hit from POST /v1/search.
type SearchMatch struct {
	TokenNo  string  `json:"token_no"`
	Name     string  `json:"name"`
	Distance float64 `json:"distance"`
}

type SearchResponse struct {
	Matches []SearchMatch `json:"matches"`
}
