// Package store defines the persistence interface for the hub and provides
// SQLite and PostgreSQL implementations.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Store is the persistence interface for the hub.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)

	// Patients
	CreatePatient(ctx context.Context, p *Patient) error
	GetPatient(ctx context.Context, id string) (*Patient, error)
	GetPatientByUser(ctx context.Context, userID string) (*Patient, error)
	ListPatients(ctx context.Context, limit, offset int) ([]Patient, error)
	UpdatePatient(ctx context.Context, p *Patient) error
	DeletePatient(ctx context.Context, id string) error

	// Appointments
	CreateAppointment(ctx context.Context, a *Appointment) error
	GetAppointment(ctx context.Context, id string) (*Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID string) ([]Appointment, error)
	ListAppointmentsByStaff(ctx context.Context, staffID string) ([]Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id, status string) error
	DeleteAppointment(ctx context.Context, id string) error

	// Prescriptions
	CreatePrescription(ctx context.Context, p *Prescription) error
	GetPrescription(ctx context.Context, id string) (*Prescription, error)
	ListPrescriptionsByPatient(ctx context.Context, patientID string) ([]Prescription, error)
	UpdatePrescriptionStatus(ctx context.Context, id, status string) error

	// Medications (pharmacy inventory)
	CreateMedication(ctx context.Context, m *Medication) error
	GetMedication(ctx context.Context, id string) (*Medication, error)
	ListMedications(ctx context.Context, limit, offset int) ([]Medication, error)
	ListLowStock(ctx context.Context, threshold int) ([]Medication, error)
	UpdateMedication(ctx context.Context, m *Medication) error
	DeleteMedication(ctx context.Context, id string) error

	// Orders
	CreateOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	ListOrders(ctx context.Context, status string, limit, offset int) ([]Order, error)
	UpdateOrderStatus(ctx context.Context, id, status string) error

	// Audit
	AppendAudit(ctx context.Context, entry *AuditEntry) error
	ListAudit(ctx context.Context, limit, offset int) ([]AuditEntry, error)
	PurgeAuditBefore(ctx context.Context, before time.Time) (int64, error)

	// Health
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// User represents an account that can sign in.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"full_name"`
	Phone        string    `json:"phone,omitempty"`
	Role         string    `json:"role"` // "patient", "hospital_staff", "pharmacy_staff" or "admin"
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Patient is the medical profile linked to a user account.
// Date fields use the YYYY-MM-DD form.
type Patient struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"user_id"`
	DateOfBirth        string    `json:"date_of_birth,omitempty"`
	BloodType          string    `json:"blood_type,omitempty"` // A+, A-, B+, B-, AB+, AB-, O+, O-
	Allergies          []string  `json:"allergies"`
	EmergencyContact   string    `json:"emergency_contact,omitempty"`
	EmergencyPhone     string    `json:"emergency_phone,omitempty"`
	MedicalHistory     []string  `json:"medical_history"`
	CurrentMedications []string  `json:"current_medications"`
	ChronicConditions  []string  `json:"chronic_conditions"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Appointment represents a scheduled visit between a patient and staff.
type Appointment struct {
	ID              string    `json:"id"`
	PatientID       string    `json:"patient_id"`
	StaffID         string    `json:"staff_id,omitempty"`
	ScheduledAt     time.Time `json:"appointment_date"`
	Department      string    `json:"department,omitempty"`
	Type            string    `json:"appointment_type"` // consultation, follow_up, emergency, surgery, lab_test, imaging, vaccination, checkup, therapy
	Status          string    `json:"status"`           // scheduled, confirmed, completed, cancelled
	Reason          string    `json:"reason,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	DurationMinutes int       `json:"duration_minutes"`
	IsVirtual       bool      `json:"is_virtual"`
	MeetingLink     string    `json:"virtual_meeting_link,omitempty"`
	Priority        string    `json:"priority"` // low, normal, high, urgent
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Prescription ties a patient to a medication with a dosing schedule.
type Prescription struct {
	ID             string    `json:"id"`
	PatientID      string    `json:"patient_id"`
	MedicationID   string    `json:"medication_id"`
	PrescribedBy   string    `json:"prescribed_by,omitempty"`
	Dosage         string    `json:"dosage"`
	Frequency      string    `json:"frequency"`
	StartDate      string    `json:"start_date,omitempty"`
	EndDate        string    `json:"end_date,omitempty"`
	Instructions   string    `json:"instructions,omitempty"`
	Status         string    `json:"status"` // active, completed, cancelled
	Quantity       int       `json:"quantity,omitempty"`
	RefillsAllowed int       `json:"refills_allowed"`
	RefillsUsed    int       `json:"refills_used"`
	PharmacyNotes  string    `json:"pharmacy_notes,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Medication is a catalog entry with its current stock level.
type Medication struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	DosageForm     string    `json:"dosage_form,omitempty"` // tablet, capsule, liquid, injection, ...
	Strength       string    `json:"strength,omitempty"`
	Manufacturer   string    `json:"manufacturer,omitempty"`
	NDCCode        string    `json:"ndc_code,omitempty"`
	StockQuantity  int       `json:"stock_quantity"`
	ReorderLevel   int       `json:"reorder_level"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	BatchNumber    string    `json:"batch_number,omitempty"`
	ExpiryDate     string    `json:"expiry_date,omitempty"`
	Location       string    `json:"location,omitempty"`
	Supplier       string    `json:"supplier,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Order is a pharmacy restock or dispense request.
type Order struct {
	ID             string     `json:"id"`
	MedicationID   string     `json:"medication_id"`
	OrderedBy      string     `json:"ordered_by"`
	PatientID      string     `json:"patient_id,omitempty"`
	PrescriptionID string     `json:"prescription_id,omitempty"`
	Quantity       int        `json:"quantity"`
	Urgency        string     `json:"urgency"` // normal, urgent, emergency
	Status         string     `json:"status"`  // pending, processing, shipped, delivered, cancelled
	Department     string     `json:"department,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	NeededBy       *time.Time `json:"needed_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// AuditEntry is a log record of a privileged or mutating action.
type AuditEntry struct {
	ID        string          `json:"id"`
	Action    string          `json:"action"`
	ActorID   string          `json:"actor_id,omitempty"`
	Subject   string          `json:"subject,omitempty"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Appointment statuses.
const (
	AppointmentScheduled = "scheduled"
	AppointmentConfirmed = "confirmed"
	AppointmentCompleted = "completed"
	AppointmentCancelled = "cancelled"
)

// Prescription statuses.
const (
	PrescriptionActive    = "active"
	PrescriptionCompleted = "completed"
	PrescriptionCancelled = "cancelled"
)

// Order statuses.
const (
	OrderPending    = "pending"
	OrderProcessing = "processing"
	OrderShipped    = "shipped"
	OrderDelivered  = "delivered"
	OrderCancelled  = "cancelled"
)

// ValidAppointmentStatus reports whether s is a recognized appointment status.
func ValidAppointmentStatus(s string) bool {
	switch s {
	case AppointmentScheduled, AppointmentConfirmed, AppointmentCompleted, AppointmentCancelled:
		return true
	}
	return false
}

// ValidPrescriptionStatus reports whether s is a recognized prescription status.
func ValidPrescriptionStatus(s string) bool {
	switch s {
	case PrescriptionActive, PrescriptionCompleted, PrescriptionCancelled:
		return true
	}
	return false
}

// ValidOrderStatus reports whether s is a recognized order status.
func ValidOrderStatus(s string) bool {
	switch s {
	case OrderPending, OrderProcessing, OrderShipped, OrderDelivered, OrderCancelled:
		return true
	}
	return false
}
