package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// The in-memory database uses a shared cache, so every store opened during a
// test run sees the same tables. Tests use random IDs to stay independent.
func testUser(t *testing.T, s *SQLiteStore, role string) *User {
	t.Helper()
	now := time.Now().UTC()
	u := &User{
		ID:           uuid.New().String(),
		Email:        uuid.New().String()[:8] + "@example.com",
		PasswordHash: "x",
		FullName:     "Test User",
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func testPatient(t *testing.T, s *SQLiteStore) *Patient {
	t.Helper()
	u := testUser(t, s, "patient")
	now := time.Now().UTC()
	p := &Patient{
		ID:          uuid.New().String(),
		UserID:      u.ID,
		DateOfBirth: "1990-04-01",
		BloodType:   "O+",
		Allergies:   []string{"penicillin"},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}
	return p
}

func testMedication(t *testing.T, s *SQLiteStore, stock, reorder int) *Medication {
	t.Helper()
	now := time.Now().UTC()
	m := &Medication{
		ID:            uuid.New().String(),
		Name:          "med-" + uuid.New().String()[:8],
		StockQuantity: stock,
		ReorderLevel:  reorder,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.CreateMedication(context.Background(), m); err != nil {
		t.Fatalf("CreateMedication: %v", err)
	}
	return m
}

func TestSQLiteMigration(t *testing.T) {
	s := newTestSQLiteStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestSQLiteUsers(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	u := testUser(t, s, "hospital_staff")

	got, err := s.GetUserByEmail(ctx, u.Email)
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if got == nil || got.ID != u.ID {
		t.Fatalf("GetUserByEmail = %+v, want id %s", got, u.ID)
	}
	if got.PasswordHash != "x" {
		t.Errorf("password hash = %q, want %q", got.PasswordHash, "x")
	}
	if got.Role != "hospital_staff" {
		t.Errorf("role = %q, want hospital_staff", got.Role)
	}

	byID, err := s.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if byID == nil || byID.Email != u.Email {
		t.Fatalf("GetUserByID = %+v, want email %s", byID, u.Email)
	}

	missing, err := s.GetUserByEmail(ctx, "nobody@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail (missing): %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown email, got %+v", missing)
	}

	// The email column is unique.
	dup := *u
	dup.ID = uuid.New().String()
	if err := s.CreateUser(ctx, &dup); err == nil {
		t.Error("expected error creating user with duplicate email")
	}
}

func TestSQLitePatients(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	p := testPatient(t, s)

	got, err := s.GetPatient(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPatient: %v", err)
	}
	if got == nil {
		t.Fatal("GetPatient returned nil for existing patient")
	}
	if got.BloodType != "O+" {
		t.Errorf("blood type = %q, want O+", got.BloodType)
	}
	if len(got.Allergies) != 1 || got.Allergies[0] != "penicillin" {
		t.Errorf("allergies = %v, want [penicillin]", got.Allergies)
	}
	if got.MedicalHistory == nil || len(got.MedicalHistory) != 0 {
		t.Errorf("medical history = %v, want empty non-nil slice", got.MedicalHistory)
	}

	byUser, err := s.GetPatientByUser(ctx, p.UserID)
	if err != nil {
		t.Fatalf("GetPatientByUser: %v", err)
	}
	if byUser == nil || byUser.ID != p.ID {
		t.Fatalf("GetPatientByUser = %+v, want id %s", byUser, p.ID)
	}

	p.Allergies = []string{"penicillin", "latex"}
	p.ChronicConditions = []string{"asthma"}
	p.UpdatedAt = time.Now().UTC()
	if err := s.UpdatePatient(ctx, p); err != nil {
		t.Fatalf("UpdatePatient: %v", err)
	}
	got, err = s.GetPatient(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPatient (after update): %v", err)
	}
	if len(got.Allergies) != 2 {
		t.Errorf("allergies after update = %v, want 2 entries", got.Allergies)
	}
	if len(got.ChronicConditions) != 1 || got.ChronicConditions[0] != "asthma" {
		t.Errorf("chronic conditions = %v, want [asthma]", got.ChronicConditions)
	}

	list, err := s.ListPatients(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListPatients: %v", err)
	}
	if len(list) > 2 {
		t.Errorf("ListPatients returned %d rows, want at most 2", len(list))
	}

	if err := s.DeletePatient(ctx, p.ID); err != nil {
		t.Fatalf("DeletePatient: %v", err)
	}
	got, err = s.GetPatient(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPatient (after delete): %v", err)
	}
	if got != nil {
		t.Errorf("expected nil after delete, got %+v", got)
	}
}

func TestSQLiteAppointments(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	p := testPatient(t, s)
	staff := testUser(t, s, "hospital_staff")
	now := time.Now().UTC()

	later := &Appointment{
		ID:          uuid.New().String(),
		PatientID:   p.ID,
		StaffID:     staff.ID,
		ScheduledAt: now.Add(48 * time.Hour),
		Department:  "cardiology",
		Type:        "consultation",
		Status:      AppointmentScheduled,
		Priority:    "normal",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	sooner := &Appointment{
		ID:              uuid.New().String(),
		PatientID:       p.ID,
		ScheduledAt:     now.Add(24 * time.Hour),
		Type:            "checkup",
		Status:          AppointmentScheduled,
		DurationMinutes: 15,
		IsVirtual:       true,
		MeetingLink:     "https://meet.example.com/abc",
		Priority:        "high",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, a := range []*Appointment{later, sooner} {
		if err := s.CreateAppointment(ctx, a); err != nil {
			t.Fatalf("CreateAppointment: %v", err)
		}
	}

	byPatient, err := s.ListAppointmentsByPatient(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListAppointmentsByPatient: %v", err)
	}
	if len(byPatient) != 2 {
		t.Fatalf("got %d appointments, want 2", len(byPatient))
	}
	if byPatient[0].ID != sooner.ID {
		t.Errorf("appointments not ordered by schedule: first = %s, want %s", byPatient[0].ID, sooner.ID)
	}
	if !byPatient[0].IsVirtual || byPatient[0].MeetingLink == "" {
		t.Errorf("virtual flags lost: %+v", byPatient[0])
	}

	byStaff, err := s.ListAppointmentsByStaff(ctx, staff.ID)
	if err != nil {
		t.Fatalf("ListAppointmentsByStaff: %v", err)
	}
	if len(byStaff) != 1 || byStaff[0].ID != later.ID {
		t.Fatalf("ListAppointmentsByStaff = %+v, want only %s", byStaff, later.ID)
	}

	if err := s.UpdateAppointmentStatus(ctx, later.ID, AppointmentConfirmed); err != nil {
		t.Fatalf("UpdateAppointmentStatus: %v", err)
	}
	got, err := s.GetAppointment(ctx, later.ID)
	if err != nil {
		t.Fatalf("GetAppointment: %v", err)
	}
	if got.Status != AppointmentConfirmed {
		t.Errorf("status = %q, want %q", got.Status, AppointmentConfirmed)
	}

	if err := s.DeleteAppointment(ctx, sooner.ID); err != nil {
		t.Fatalf("DeleteAppointment: %v", err)
	}
	gone, err := s.GetAppointment(ctx, sooner.ID)
	if err != nil {
		t.Fatalf("GetAppointment (deleted): %v", err)
	}
	if gone != nil {
		t.Errorf("expected nil after delete, got %+v", gone)
	}
}

func TestSQLitePrescriptions(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	p := testPatient(t, s)
	med := testMedication(t, s, 100, 10)
	now := time.Now().UTC()

	rx := &Prescription{
		ID:             uuid.New().String(),
		PatientID:      p.ID,
		MedicationID:   med.ID,
		Dosage:         "500mg",
		Frequency:      "twice daily",
		StartDate:      "2026-08-01",
		Status:         PrescriptionActive,
		Quantity:       60,
		RefillsAllowed: 2,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.CreatePrescription(ctx, rx); err != nil {
		t.Fatalf("CreatePrescription: %v", err)
	}

	list, err := s.ListPrescriptionsByPatient(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListPrescriptionsByPatient: %v", err)
	}
	if len(list) != 1 || list[0].Dosage != "500mg" {
		t.Fatalf("ListPrescriptionsByPatient = %+v, want one 500mg entry", list)
	}

	if err := s.UpdatePrescriptionStatus(ctx, rx.ID, PrescriptionCompleted); err != nil {
		t.Fatalf("UpdatePrescriptionStatus: %v", err)
	}
	got, err := s.GetPrescription(ctx, rx.ID)
	if err != nil {
		t.Fatalf("GetPrescription: %v", err)
	}
	if got.Status != PrescriptionCompleted {
		t.Errorf("status = %q, want %q", got.Status, PrescriptionCompleted)
	}
	if got.RefillsAllowed != 2 {
		t.Errorf("refills allowed = %d, want 2", got.RefillsAllowed)
	}
}

func TestSQLiteLowStock(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	depleted := testMedication(t, s, 3, 10)
	healthy := testMedication(t, s, 80, 10)

	contains := func(meds []Medication, id string) bool {
		for _, m := range meds {
			if m.ID == id {
				return true
			}
		}
		return false
	}

	low, err := s.ListLowStock(ctx, 0)
	if err != nil {
		t.Fatalf("ListLowStock: %v", err)
	}
	if !contains(low, depleted.ID) {
		t.Error("depleted medication missing from reorder-level low stock")
	}
	if contains(low, healthy.ID) {
		t.Error("healthy medication reported as low stock")
	}

	flat, err := s.ListLowStock(ctx, 90)
	if err != nil {
		t.Fatalf("ListLowStock (threshold): %v", err)
	}
	if !contains(flat, healthy.ID) {
		t.Error("flat threshold should include the healthy medication")
	}

	healthy.StockQuantity = 5
	healthy.UpdatedAt = time.Now().UTC()
	if err := s.UpdateMedication(ctx, healthy); err != nil {
		t.Fatalf("UpdateMedication: %v", err)
	}
	low, err = s.ListLowStock(ctx, 0)
	if err != nil {
		t.Fatalf("ListLowStock (after update): %v", err)
	}
	if !contains(low, healthy.ID) {
		t.Error("medication should be low stock after depletion")
	}
}

func TestSQLiteOrders(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	med := testMedication(t, s, 50, 5)
	staff := testUser(t, s, "pharmacy_staff")
	now := time.Now().UTC()
	needed := now.Add(72 * time.Hour)

	urgent := &Order{
		ID:           uuid.New().String(),
		MedicationID: med.ID,
		OrderedBy:    staff.ID,
		Quantity:     20,
		Urgency:      "urgent",
		Status:       OrderPending,
		NeededBy:     &needed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	routine := &Order{
		ID:           uuid.New().String(),
		MedicationID: med.ID,
		OrderedBy:    staff.ID,
		Quantity:     5,
		Urgency:      "normal",
		Status:       OrderProcessing,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, o := range []*Order{urgent, routine} {
		if err := s.CreateOrder(ctx, o); err != nil {
			t.Fatalf("CreateOrder: %v", err)
		}
	}

	got, err := s.GetOrder(ctx, urgent.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.NeededBy == nil {
		t.Error("needed_by lost on round trip")
	}
	gotRoutine, err := s.GetOrder(ctx, routine.ID)
	if err != nil {
		t.Fatalf("GetOrder (routine): %v", err)
	}
	if gotRoutine.NeededBy != nil {
		t.Errorf("needed_by = %v, want nil", gotRoutine.NeededBy)
	}

	pending, err := s.ListOrders(ctx, OrderPending, 0, 0)
	if err != nil {
		t.Fatalf("ListOrders (pending): %v", err)
	}
	foundUrgent := false
	for _, o := range pending {
		if o.ID == routine.ID {
			t.Error("processing order returned from pending filter")
		}
		if o.ID == urgent.ID {
			foundUrgent = true
		}
	}
	if !foundUrgent {
		t.Error("pending order missing from status filter")
	}

	if err := s.UpdateOrderStatus(ctx, urgent.ID, OrderShipped); err != nil {
		t.Fatalf("UpdateOrderStatus: %v", err)
	}
	got, err = s.GetOrder(ctx, urgent.ID)
	if err != nil {
		t.Fatalf("GetOrder (after update): %v", err)
	}
	if got.Status != OrderShipped {
		t.Errorf("status = %q, want %q", got.Status, OrderShipped)
	}
}

func TestSQLiteAudit(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	actor := uuid.New().String()
	old := &AuditEntry{
		ID:        uuid.New().String(),
		Action:    "patient.delete",
		ActorID:   actor,
		Subject:   "patient:" + uuid.New().String()[:8],
		CreatedAt: time.Now().UTC().Add(-48 * time.Hour),
	}
	recent := &AuditEntry{
		ID:        uuid.New().String(),
		Action:    "order.status",
		ActorID:   actor,
		Detail:    json.RawMessage(`{"from":"pending","to":"shipped"}`),
		CreatedAt: time.Now().UTC(),
	}
	for _, e := range []*AuditEntry{old, recent} {
		if err := s.AppendAudit(ctx, e); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}

	entries, err := s.ListAudit(ctx, 100, 0)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	var gotDetail json.RawMessage
	for _, e := range entries {
		if e.ID == recent.ID {
			gotDetail = e.Detail
		}
	}
	if string(gotDetail) != `{"from":"pending","to":"shipped"}` {
		t.Errorf("detail = %s, want original payload", gotDetail)
	}

	purged, err := s.PurgeAuditBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeAuditBefore: %v", err)
	}
	if purged < 1 {
		t.Errorf("purged = %d, want at least 1", purged)
	}

	entries, err = s.ListAudit(ctx, 100, 0)
	if err != nil {
		t.Fatalf("ListAudit (after purge): %v", err)
	}
	for _, e := range entries {
		if e.ID == old.ID {
			t.Error("old audit entry survived purge")
		}
	}
}

// Deleting a patient removes their appointments and prescriptions through
// the cascade on patient_id.
func TestSQLitePatientCascade(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	p := testPatient(t, s)
	med := testMedication(t, s, 30, 5)
	now := time.Now().UTC()

	appt := &Appointment{
		ID:          uuid.New().String(),
		PatientID:   p.ID,
		ScheduledAt: now.Add(time.Hour),
		Type:        "consultation",
		Status:      AppointmentScheduled,
		Priority:    "normal",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.CreateAppointment(ctx, appt); err != nil {
		t.Fatalf("CreateAppointment: %v", err)
	}
	rx := &Prescription{
		ID:           uuid.New().String(),
		PatientID:    p.ID,
		MedicationID: med.ID,
		Dosage:       "10ml",
		Frequency:    "daily",
		Status:       PrescriptionActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.CreatePrescription(ctx, rx); err != nil {
		t.Fatalf("CreatePrescription: %v", err)
	}

	if err := s.DeletePatient(ctx, p.ID); err != nil {
		t.Fatalf("DeletePatient: %v", err)
	}

	gotAppt, err := s.GetAppointment(ctx, appt.ID)
	if err != nil {
		t.Fatalf("GetAppointment: %v", err)
	}
	if gotAppt != nil {
		t.Error("appointment survived patient delete")
	}
	gotRx, err := s.GetPrescription(ctx, rx.ID)
	if err != nil {
		t.Fatalf("GetPrescription: %v", err)
	}
	if gotRx != nil {
		t.Error("prescription survived patient delete")
	}
}
