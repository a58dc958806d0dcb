package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite store and runs migrations.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	// For in-memory databases, use shared cache so all connections in the pool
	// see the same data. Without this, each pooled connection gets a separate
	// empty database.
	if dsn == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrent read/write.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			full_name TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT 'patient',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS patients (
			id TEXT PRIMARY KEY,
			user_id TEXT UNIQUE NOT NULL REFERENCES users(id),
			date_of_birth TEXT NOT NULL DEFAULT '',
			blood_type TEXT NOT NULL DEFAULT '',
			allergies TEXT NOT NULL DEFAULT '[]',
			emergency_contact TEXT NOT NULL DEFAULT '',
			emergency_phone TEXT NOT NULL DEFAULT '',
			medical_history TEXT NOT NULL DEFAULT '[]',
			current_medications TEXT NOT NULL DEFAULT '[]',
			chronic_conditions TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS appointments (
			id TEXT PRIMARY KEY,
			patient_id TEXT NOT NULL REFERENCES patients(id) ON DELETE CASCADE,
			staff_id TEXT NOT NULL DEFAULT '',
			scheduled_at DATETIME NOT NULL,
			department TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT 'consultation',
			status TEXT NOT NULL DEFAULT 'scheduled',
			reason TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			duration_minutes INTEGER NOT NULL DEFAULT 30,
			is_virtual INTEGER NOT NULL DEFAULT 0,
			meeting_link TEXT NOT NULL DEFAULT '',
			priority TEXT NOT NULL DEFAULT 'normal',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_patient_id ON appointments(patient_id)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_staff_id ON appointments(staff_id)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_status ON appointments(status)`,
		`CREATE TABLE IF NOT EXISTS medications (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			dosage_form TEXT NOT NULL DEFAULT '',
			strength TEXT NOT NULL DEFAULT '',
			manufacturer TEXT NOT NULL DEFAULT '',
			ndc_code TEXT NOT NULL DEFAULT '',
			stock_quantity INTEGER NOT NULL DEFAULT 0,
			reorder_level INTEGER NOT NULL DEFAULT 0,
			unit_price_cents INTEGER NOT NULL DEFAULT 0,
			batch_number TEXT NOT NULL DEFAULT '',
			expiry_date TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			supplier TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_medications_name ON medications(name)`,
		`CREATE TABLE IF NOT EXISTS prescriptions (
			id TEXT PRIMARY KEY,
			patient_id TEXT NOT NULL REFERENCES patients(id) ON DELETE CASCADE,
			medication_id TEXT NOT NULL REFERENCES medications(id),
			prescribed_by TEXT NOT NULL DEFAULT '',
			dosage TEXT NOT NULL DEFAULT '',
			frequency TEXT NOT NULL DEFAULT '',
			start_date TEXT NOT NULL DEFAULT '',
			end_date TEXT NOT NULL DEFAULT '',
			instructions TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			quantity INTEGER NOT NULL DEFAULT 0,
			refills_allowed INTEGER NOT NULL DEFAULT 0,
			refills_used INTEGER NOT NULL DEFAULT 0,
			pharmacy_notes TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_prescriptions_patient_id ON prescriptions(patient_id)`,
		`CREATE INDEX IF NOT EXISTS idx_prescriptions_status ON prescriptions(status)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			medication_id TEXT NOT NULL REFERENCES medications(id),
			ordered_by TEXT NOT NULL,
			patient_id TEXT NOT NULL DEFAULT '',
			prescription_id TEXT NOT NULL DEFAULT '',
			quantity INTEGER NOT NULL,
			urgency TEXT NOT NULL DEFAULT 'normal',
			status TEXT NOT NULL DEFAULT 'pending',
			department TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			needed_by DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_medication_id ON orders(medication_id)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			actor_id TEXT NOT NULL DEFAULT '',
			subject TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_action ON audit_log(action)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n  SQL: %s", err, m)
		}
	}

	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// encodeList stores string slices as JSON text columns.
func encodeList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(items)
	return string(b)
}

func decodeList(raw string) []string {
	items := []string{}
	if raw == "" {
		return items
	}
	_ = json.Unmarshal([]byte(raw), &items)
	return items
}

// --- Users ---

func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, full_name, phone, role, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.PasswordHash, user.FullName, user.Phone, user.Role, user.CreatedAt, user.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, password_hash, full_name, phone, role, created_at, updated_at FROM users WHERE email = ?",
		email,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.Phone, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &u, err
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, password_hash, full_name, phone, role, created_at, updated_at FROM users WHERE id = ?", id,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.Phone, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &u, err
}

// --- Patients ---

func (s *SQLiteStore) CreatePatient(ctx context.Context, p *Patient) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO patients (id, user_id, date_of_birth, blood_type, allergies, emergency_contact, emergency_phone,
		                       medical_history, current_medications, chronic_conditions, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.DateOfBirth, p.BloodType, encodeList(p.Allergies), p.EmergencyContact, p.EmergencyPhone,
		encodeList(p.MedicalHistory), encodeList(p.CurrentMedications), encodeList(p.ChronicConditions), p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) GetPatient(ctx context.Context, id string) (*Patient, error) {
	var p Patient
	var allergies, history, meds, conditions string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, date_of_birth, blood_type, allergies, emergency_contact, emergency_phone,
		        medical_history, current_medications, chronic_conditions, created_at, updated_at
		 FROM patients WHERE id = ?`, id,
	).Scan(&p.ID, &p.UserID, &p.DateOfBirth, &p.BloodType, &allergies, &p.EmergencyContact, &p.EmergencyPhone,
		&history, &meds, &conditions, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Allergies = decodeList(allergies)
	p.MedicalHistory = decodeList(history)
	p.CurrentMedications = decodeList(meds)
	p.ChronicConditions = decodeList(conditions)
	return &p, nil
}

func (s *SQLiteStore) GetPatientByUser(ctx context.Context, userID string) (*Patient, error) {
	var p Patient
	var allergies, history, meds, conditions string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, date_of_birth, blood_type, allergies, emergency_contact, emergency_phone,
		        medical_history, current_medications, chronic_conditions, created_at, updated_at
		 FROM patients WHERE user_id = ?`, userID,
	).Scan(&p.ID, &p.UserID, &p.DateOfBirth, &p.BloodType, &allergies, &p.EmergencyContact, &p.EmergencyPhone,
		&history, &meds, &conditions, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Allergies = decodeList(allergies)
	p.MedicalHistory = decodeList(history)
	p.CurrentMedications = decodeList(meds)
	p.ChronicConditions = decodeList(conditions)
	return &p, nil
}

func (s *SQLiteStore) ListPatients(ctx context.Context, limit, offset int) ([]Patient, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, date_of_birth, blood_type, allergies, emergency_contact, emergency_phone,
		        medical_history, current_medications, chronic_conditions, created_at, updated_at
		 FROM patients ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var patients []Patient
	for rows.Next() {
		var p Patient
		var allergies, history, meds, conditions string
		if err := rows.Scan(&p.ID, &p.UserID, &p.DateOfBirth, &p.BloodType, &allergies, &p.EmergencyContact, &p.EmergencyPhone,
			&history, &meds, &conditions, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Allergies = decodeList(allergies)
		p.MedicalHistory = decodeList(history)
		p.CurrentMedications = decodeList(meds)
		p.ChronicConditions = decodeList(conditions)
		patients = append(patients, p)
	}
	return patients, rows.Err()
}

func (s *SQLiteStore) UpdatePatient(ctx context.Context, p *Patient) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE patients SET date_of_birth = ?, blood_type = ?, allergies = ?, emergency_contact = ?,
		        emergency_phone = ?, medical_history = ?, current_medications = ?, chronic_conditions = ?, updated_at = ?
		 WHERE id = ?`,
		p.DateOfBirth, p.BloodType, encodeList(p.Allergies), p.EmergencyContact,
		p.EmergencyPhone, encodeList(p.MedicalHistory), encodeList(p.CurrentMedications), encodeList(p.ChronicConditions), p.UpdatedAt,
		p.ID,
	)
	return err
}

func (s *SQLiteStore) DeletePatient(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM patients WHERE id = ?", id)
	return err
}

// --- Appointments ---

func (s *SQLiteStore) CreateAppointment(ctx context.Context, a *Appointment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO appointments (id, patient_id, staff_id, scheduled_at, department, type, status, reason, notes,
		                           duration_minutes, is_virtual, meeting_link, priority, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.PatientID, a.StaffID, a.ScheduledAt, a.Department, a.Type, a.Status, a.Reason, a.Notes,
		a.DurationMinutes, a.IsVirtual, a.MeetingLink, a.Priority, a.CreatedAt, a.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	var a Appointment
	err := s.db.QueryRowContext(ctx,
		`SELECT id, patient_id, staff_id, scheduled_at, department, type, status, reason, notes,
		        duration_minutes, is_virtual, meeting_link, priority, created_at, updated_at
		 FROM appointments WHERE id = ?`, id,
	).Scan(&a.ID, &a.PatientID, &a.StaffID, &a.ScheduledAt, &a.Department, &a.Type, &a.Status, &a.Reason, &a.Notes,
		&a.DurationMinutes, &a.IsVirtual, &a.MeetingLink, &a.Priority, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &a, err
}

func (s *SQLiteStore) ListAppointmentsByPatient(ctx context.Context, patientID string) ([]Appointment, error) {
	return s.listAppointments(ctx, "patient_id", patientID)
}

func (s *SQLiteStore) ListAppointmentsByStaff(ctx context.Context, staffID string) ([]Appointment, error) {
	return s.listAppointments(ctx, "staff_id", staffID)
}

func (s *SQLiteStore) listAppointments(ctx context.Context, column, value string) ([]Appointment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, patient_id, staff_id, scheduled_at, department, type, status, reason, notes,
		        duration_minutes, is_virtual, meeting_link, priority, created_at, updated_at
		 FROM appointments WHERE `+column+` = ? ORDER BY scheduled_at`,
		value,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var appts []Appointment
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(&a.ID, &a.PatientID, &a.StaffID, &a.ScheduledAt, &a.Department, &a.Type, &a.Status, &a.Reason, &a.Notes,
			&a.DurationMinutes, &a.IsVirtual, &a.MeetingLink, &a.Priority, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	return appts, rows.Err()
}

func (s *SQLiteStore) UpdateAppointmentStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE appointments SET status = ?, updated_at = ? WHERE id = ?",
		status, time.Now().UTC(), id,
	)
	return err
}

func (s *SQLiteStore) DeleteAppointment(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM appointments WHERE id = ?", id)
	return err
}

// --- Prescriptions ---

func (s *SQLiteStore) CreatePrescription(ctx context.Context, p *Prescription) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prescriptions (id, patient_id, medication_id, prescribed_by, dosage, frequency, start_date, end_date,
		                            instructions, status, quantity, refills_allowed, refills_used, pharmacy_notes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.PatientID, p.MedicationID, p.PrescribedBy, p.Dosage, p.Frequency, p.StartDate, p.EndDate,
		p.Instructions, p.Status, p.Quantity, p.RefillsAllowed, p.RefillsUsed, p.PharmacyNotes, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) GetPrescription(ctx context.Context, id string) (*Prescription, error) {
	var p Prescription
	err := s.db.QueryRowContext(ctx,
		`SELECT id, patient_id, medication_id, prescribed_by, dosage, frequency, start_date, end_date,
		        instructions, status, quantity, refills_allowed, refills_used, pharmacy_notes, created_at, updated_at
		 FROM prescriptions WHERE id = ?`, id,
	).Scan(&p.ID, &p.PatientID, &p.MedicationID, &p.PrescribedBy, &p.Dosage, &p.Frequency, &p.StartDate, &p.EndDate,
		&p.Instructions, &p.Status, &p.Quantity, &p.RefillsAllowed, &p.RefillsUsed, &p.PharmacyNotes, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &p, err
}

func (s *SQLiteStore) ListPrescriptionsByPatient(ctx context.Context, patientID string) ([]Prescription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, patient_id, medication_id, prescribed_by, dosage, frequency, start_date, end_date,
		        instructions, status, quantity, refills_allowed, refills_used, pharmacy_notes, created_at, updated_at
		 FROM prescriptions WHERE patient_id = ? ORDER BY created_at DESC`,
		patientID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var scrips []Prescription
	for rows.Next() {
		var p Prescription
		if err := rows.Scan(&p.ID, &p.PatientID, &p.MedicationID, &p.PrescribedBy, &p.Dosage, &p.Frequency, &p.StartDate, &p.EndDate,
			&p.Instructions, &p.Status, &p.Quantity, &p.RefillsAllowed, &p.RefillsUsed, &p.PharmacyNotes, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		scrips = append(scrips, p)
	}
	return scrips, rows.Err()
}

func (s *SQLiteStore) UpdatePrescriptionStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE prescriptions SET status = ?, updated_at = ? WHERE id = ?",
		status, time.Now().UTC(), id,
	)
	return err
}

// --- Medications ---

func (s *SQLiteStore) CreateMedication(ctx context.Context, m *Medication) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO medications (id, name, description, dosage_form, strength, manufacturer, ndc_code,
		                          stock_quantity, reorder_level, unit_price_cents, batch_number, expiry_date,
		                          location, supplier, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.Description, m.DosageForm, m.Strength, m.Manufacturer, m.NDCCode,
		m.StockQuantity, m.ReorderLevel, m.UnitPriceCents, m.BatchNumber, m.ExpiryDate,
		m.Location, m.Supplier, m.CreatedAt, m.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) GetMedication(ctx context.Context, id string) (*Medication, error) {
	var m Medication
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, dosage_form, strength, manufacturer, ndc_code,
		        stock_quantity, reorder_level, unit_price_cents, batch_number, expiry_date,
		        location, supplier, created_at, updated_at
		 FROM medications WHERE id = ?`, id,
	).Scan(&m.ID, &m.Name, &m.Description, &m.DosageForm, &m.Strength, &m.Manufacturer, &m.NDCCode,
		&m.StockQuantity, &m.ReorderLevel, &m.UnitPriceCents, &m.BatchNumber, &m.ExpiryDate,
		&m.Location, &m.Supplier, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &m, err
}

func (s *SQLiteStore) ListMedications(ctx context.Context, limit, offset int) ([]Medication, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryMedications(ctx,
		`SELECT id, name, description, dosage_form, strength, manufacturer, ndc_code,
		        stock_quantity, reorder_level, unit_price_cents, batch_number, expiry_date,
		        location, supplier, created_at, updated_at
		 FROM medications ORDER BY name LIMIT ? OFFSET ?`,
		limit, offset,
	)
}

// ListLowStock returns medications at or below the flat threshold, or at or
// below their own reorder level when threshold is zero or negative.
func (s *SQLiteStore) ListLowStock(ctx context.Context, threshold int) ([]Medication, error) {
	if threshold > 0 {
		return s.queryMedications(ctx,
			`SELECT id, name, description, dosage_form, strength, manufacturer, ndc_code,
			        stock_quantity, reorder_level, unit_price_cents, batch_number, expiry_date,
			        location, supplier, created_at, updated_at
			 FROM medications WHERE stock_quantity <= ? ORDER BY stock_quantity`,
			threshold,
		)
	}
	return s.queryMedications(ctx,
		`SELECT id, name, description, dosage_form, strength, manufacturer, ndc_code,
		        stock_quantity, reorder_level, unit_price_cents, batch_number, expiry_date,
		        location, supplier, created_at, updated_at
		 FROM medications WHERE stock_quantity <= reorder_level ORDER BY stock_quantity`,
	)
}

func (s *SQLiteStore) queryMedications(ctx context.Context, query string, args ...any) ([]Medication, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var meds []Medication
	for rows.Next() {
		var m Medication
		if err := rows.Scan(&m.ID, &m.Name, &m.Description, &m.DosageForm, &m.Strength, &m.Manufacturer, &m.NDCCode,
			&m.StockQuantity, &m.ReorderLevel, &m.UnitPriceCents, &m.BatchNumber, &m.ExpiryDate,
			&m.Location, &m.Supplier, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		meds = append(meds, m)
	}
	return meds, rows.Err()
}

func (s *SQLiteStore) UpdateMedication(ctx context.Context, m *Medication) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE medications SET name = ?, description = ?, dosage_form = ?, strength = ?, manufacturer = ?,
		        ndc_code = ?, stock_quantity = ?, reorder_level = ?, unit_price_cents = ?, batch_number = ?,
		        expiry_date = ?, location = ?, supplier = ?, updated_at = ?
		 WHERE id = ?`,
		m.Name, m.Description, m.DosageForm, m.Strength, m.Manufacturer,
		m.NDCCode, m.StockQuantity, m.ReorderLevel, m.UnitPriceCents, m.BatchNumber,
		m.ExpiryDate, m.Location, m.Supplier, m.UpdatedAt,
		m.ID,
	)
	return err
}

func (s *SQLiteStore) DeleteMedication(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM medications WHERE id = ?", id)
	return err
}

// --- Orders ---

func (s *SQLiteStore) CreateOrder(ctx context.Context, o *Order) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO orders (id, medication_id, ordered_by, patient_id, prescription_id, quantity, urgency, status,
		                     department, notes, needed_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.MedicationID, o.OrderedBy, o.PatientID, o.PrescriptionID, o.Quantity, o.Urgency, o.Status,
		o.Department, o.Notes, o.NeededBy, o.CreatedAt, o.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	var o Order
	err := s.db.QueryRowContext(ctx,
		`SELECT id, medication_id, ordered_by, patient_id, prescription_id, quantity, urgency, status,
		        department, notes, needed_by, created_at, updated_at
		 FROM orders WHERE id = ?`, id,
	).Scan(&o.ID, &o.MedicationID, &o.OrderedBy, &o.PatientID, &o.PrescriptionID, &o.Quantity, &o.Urgency, &o.Status,
		&o.Department, &o.Notes, &o.NeededBy, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &o, err
}

// ListOrders returns orders newest first, filtered by status when non-empty.
func (s *SQLiteStore) ListOrders(ctx context.Context, status string, limit, offset int) ([]Order, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, medication_id, ordered_by, patient_id, prescription_id, quantity, urgency, status,
	                 department, notes, needed_by, created_at, updated_at
	          FROM orders`
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var orders []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.MedicationID, &o.OrderedBy, &o.PatientID, &o.PrescriptionID, &o.Quantity, &o.Urgency, &o.Status,
			&o.Department, &o.Notes, &o.NeededBy, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *SQLiteStore) UpdateOrderStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = ?, updated_at = ? WHERE id = ?",
		status, time.Now().UTC(), id,
	)
	return err
}

// --- Audit ---

func (s *SQLiteStore) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	detail := ""
	if entry.Detail != nil {
		detail = string(entry.Detail)
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO audit_log (id, action, actor_id, subject, detail, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		entry.ID, entry.Action, entry.ActorID, entry.Subject, detail, entry.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) ListAudit(ctx context.Context, limit, offset int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action, actor_id, subject, detail, created_at
		 FROM audit_log ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var detail string
		if err := rows.Scan(&e.ID, &e.Action, &e.ActorID, &e.Subject, &detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		if detail != "" {
			e.Detail = json.RawMessage(detail)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) PurgeAuditBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM audit_log WHERE created_at < ?", before,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
