package domain

const (
	RoleManager    = "manager"
	RoleSupervisor = "supervisor"
)

const (
	ResourceMaterial  = "material"
	ResourceEquipment = "equipment"
	ResourceLabor     = "labor"
)

// ResourceTypes lists the accepted resource kinds.
var ResourceTypes = []string{ResourceMaterial, ResourceEquipment, ResourceLabor}

// DocumentTypes lists the accepted project document kinds.
var DocumentTypes = []string{"blueprint", "contract", "inspection_report", "video", "image"}

type Project struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Location     string  `json:"location,omitempty"`
	Budget       string  `json:"budget"`
	Timeline     *string `json:"timeline,omitempty" format:"date"`
	ManagerID    *string `json:"manager_id,omitempty"`
	SupervisorID *string `json:"supervisor_id,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

// Resource is a depletable inventory item. Quantity is what remains after
// every committed task reservation.
type Resource struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	Type      string `json:"resource_type" enum:"material,equipment,labor"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Worker struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	NationalID string `json:"national_id"`
	IsWorking  bool   `json:"is_working"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type Task struct {
	ID           string  `json:"id"`
	ProjectID    string  `json:"project_id"`
	Name         string  `json:"name"`
	ResourceID   string  `json:"resource_id"`
	QuantityUsed int     `json:"quantity_used"`
	WorkerID     *string `json:"worker_id,omitempty"`
	SupervisorID *string `json:"supervisor_id,omitempty"`
	StartDate    string  `json:"start_date" format:"date"`
	EndDate      *string `json:"end_date,omitempty" format:"date"`
	ImageURL     *string `json:"image_url,omitempty"`
	Description  string  `json:"description,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

type Document struct {
	ID           string `json:"id"`
	ProjectID    string `json:"project_id"`
	Title        string `json:"title"`
	DocumentType string `json:"document_type" enum:"blueprint,contract,inspection_report,video,image"`
	URL          string `json:"url"`
	UploadedBy   string `json:"uploaded_by"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Role      string `json:"role"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// IsResourceType reports whether t is a known resource kind.
func IsResourceType(t string) bool {
	return contains(ResourceTypes, t)
}

// IsDocumentType reports whether t is a known document kind.
func IsDocumentType(t string) bool {
	return contains(DocumentTypes, t)
}

// IsRole reports whether r is one of the two user roles.
func IsRole(r string) bool {
	return r == RoleManager || r == RoleSupervisor
}

func contains(items []string, v string) bool {
	for _, it := range items {
		if it == v {
			return true
		}
	}
	return false
}
