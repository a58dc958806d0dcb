// Package api provides the HTTP API and middleware for the hub.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/vaenkat/health-ecosystem-hub/internal/auth"
	"github.com/vaenkat/health-ecosystem-hub/internal/config"
	"github.com/vaenkat/health-ecosystem-hub/internal/limiter"
	"github.com/vaenkat/health-ecosystem-hub/internal/metrics"
	"github.com/vaenkat/health-ecosystem-hub/internal/realtime"
	"github.com/vaenkat/health-ecosystem-hub/internal/store"
	"github.com/vaenkat/health-ecosystem-hub/pkg/protocol"
)

// Options carries the server's dependencies.
type Options struct {
	Store      store.Store
	Auth       auth.Provider
	Builtin    *auth.Service // non-nil enables the register and login routes
	Limiter    *limiter.Limiter
	Recorder   limiter.Recorder // optional admission stats sink
	Registry   *realtime.Registry
	Dispatcher *realtime.Dispatcher
	Gateway    *realtime.Gateway
	Config     *config.Config
	Logger     *slog.Logger
}

// Server is the hub's HTTP surface.
type Server struct {
	store        store.Store
	provider     auth.Provider
	builtin      *auth.Service
	limiter      *limiter.Limiter
	recorder     limiter.Recorder
	registry     *realtime.Registry
	dispatcher   *realtime.Dispatcher
	gateway      *realtime.Gateway
	logger       *slog.Logger
	mux          *chi.Mux
	startTime    time.Time
	maxBodyBytes int64
}

// NewServer creates the API server and wires its route tree.
func NewServer(opts Options) *Server {
	srv := &Server{
		store:        opts.Store,
		provider:     opts.Auth,
		builtin:      opts.Builtin,
		limiter:      opts.Limiter,
		recorder:     opts.Recorder,
		registry:     opts.Registry,
		dispatcher:   opts.Dispatcher,
		gateway:      opts.Gateway,
		logger:       opts.Logger.With("component", "api"),
		startTime:    time.Now(),
		maxBodyBytes: opts.Config.Server.MaxBodyBytes,
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(chimw.RequestID)
	mux.Use(srv.requestLogger)
	mux.Use(securityHeadersMiddleware)
	mux.Use(makeCORSMiddleware(opts.Config.Server.AllowedOrigins))

	// Operational routes, never admission-gated.
	mux.Get("/healthz", srv.handleHealthz)
	mux.Get("/readyz", srv.handleReadyz)
	mux.Handle("/metrics", metrics.Handler())

	// Public routes. Admission keys by user when a token is present, by IP
	// otherwise. Register and login only exist with builtin auth.
	mux.Group(func(r chi.Router) {
		r.Use(srv.optionalAuthMiddleware)
		r.Use(srv.admissionMiddleware)

		if srv.builtin != nil {
			r.Post("/api/v1/auth/register", srv.handleRegister)
			r.Post("/api/v1/auth/login", srv.handleLogin)
		}

		// Token checks happen inside the gateway, before the upgrade.
		r.Get("/ws/{user_id}", srv.handleWS)
	})

	// Authenticated API routes.
	mux.Group(func(r chi.Router) {
		r.Use(srv.authMiddleware)
		r.Use(srv.admissionMiddleware)

		r.Get("/api/v1/auth/me", srv.handleMe)

		// Patients
		r.Get("/api/v1/patients/{patientID}", srv.handleGetPatient)
		r.With(srv.staffMiddleware).Post("/api/v1/patients", srv.handleCreatePatient)
		r.With(srv.staffMiddleware).Get("/api/v1/patients", srv.handleListPatients)
		r.With(srv.staffMiddleware).Put("/api/v1/patients/{patientID}", srv.handleUpdatePatient)
		r.With(srv.staffMiddleware).Delete("/api/v1/patients/{patientID}", srv.handleDeletePatient)

		// Appointments
		r.Post("/api/v1/appointments", srv.handleCreateAppointment)
		r.Get("/api/v1/appointments", srv.handleListAppointments)
		r.Put("/api/v1/appointments/{appointmentID}/status", srv.handleUpdateAppointmentStatus)
		r.With(srv.staffMiddleware).Delete("/api/v1/appointments/{appointmentID}", srv.handleDeleteAppointment)

		// Prescriptions
		r.With(srv.staffMiddleware).Post("/api/v1/prescriptions", srv.handleCreatePrescription)
		r.Get("/api/v1/prescriptions", srv.handleListPrescriptions)
		r.With(srv.staffMiddleware).Put("/api/v1/prescriptions/{prescriptionID}/status", srv.handleUpdatePrescriptionStatus)

		// Medications
		r.Get("/api/v1/medications", srv.handleListMedications)
		r.Get("/api/v1/medications/{medicationID}", srv.handleGetMedication)
		r.With(srv.staffMiddleware).Post("/api/v1/medications", srv.handleCreateMedication)
		r.With(srv.staffMiddleware).Put("/api/v1/medications/{medicationID}", srv.handleUpdateMedication)
		r.With(srv.staffMiddleware).Delete("/api/v1/medications/{medicationID}", srv.handleDeleteMedication)

		// Orders
		r.With(srv.staffMiddleware).Post("/api/v1/orders", srv.handleCreateOrder)
		r.With(srv.staffMiddleware).Get("/api/v1/orders", srv.handleListOrders)
		r.With(srv.staffMiddleware).Put("/api/v1/orders/{orderID}/status", srv.handleUpdateOrderStatus)

		// Realtime operations
		r.With(srv.staffMiddleware).Get("/api/v1/ws/stats", srv.handleWSStats)

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(srv.adminMiddleware)
			r.Post("/api/v1/notifications/system", srv.handleSystemNotification)
			r.Get("/api/v1/admin/audit", srv.handleListAudit)
		})
	})

	srv.mux = mux
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// --- Auth handlers ---

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		FullName string `json:"full_name"`
		Phone    string `json:"phone"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid email address")
		return
	}
	if len(req.Password) < 8 || len(req.Password) > 128 {
		writeError(w, http.StatusBadRequest, "bad_request", "password must be 8-128 characters")
		return
	}

	token, user, err := s.builtin.Register(r.Context(), auth.RegisterParams{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
		Phone:    req.Phone,
		Role:     req.Role,
	})
	if err != nil {
		switch err {
		case auth.ErrUserExists:
			writeError(w, http.StatusConflict, "conflict", "user already exists")
		case auth.ErrInvalidRole:
			writeError(w, http.StatusBadRequest, "bad_request", "invalid role")
		default:
			writeError(w, http.StatusInternalServerError, "internal", "failed to register")
		}
		return
	}

	s.audit(r, "user.register", user.ID, user.Email, map[string]any{"role": user.Role})
	writeJSON(w, http.StatusCreated, map[string]any{"token": token, "user": user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	token, user, err := s.builtin.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if err == auth.ErrInvalidCredentials {
			s.audit(r, "login.failed", "", req.Email, nil)
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", "failed to log in")
		return
	}

	s.audit(r, "login.success", user.ID, user.Email, nil)
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": user})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{
		"id":    identity.UserID,
		"email": identity.Email,
		"role":  identity.Role,
	})
}

// --- Patient handlers ---

func (s *Server) handleCreatePatient(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var p store.Patient
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if p.UserID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "user_id is required")
		return
	}

	user, err := s.store.GetUserByID(r.Context(), p.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to look up user")
		return
	}
	if user == nil {
		writeError(w, http.StatusBadRequest, "bad_request", "no such user")
		return
	}
	existing, err := s.store.GetPatientByUser(r.Context(), p.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to look up patient")
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "conflict", "patient profile already exists for this user")
		return
	}

	now := time.Now().UTC()
	p.ID = uuid.New().String()
	p.CreatedAt, p.UpdatedAt = now, now
	if err := s.store.CreatePatient(r.Context(), &p); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to create patient")
		return
	}

	s.audit(r, "patient.create", actorID(r), p.ID, nil)
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListPatients(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	patients, err := s.store.ListPatients(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to list patients")
		return
	}
	if patients == nil {
		patients = []store.Patient{}
	}
	writeJSON(w, http.StatusOK, patients)
}

func (s *Server) handleGetPatient(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetPatient(r.Context(), chi.URLParam(r, "patientID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to get patient")
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "not_found", "patient not found")
		return
	}

	// Patients see their own record only.
	identity := identityFrom(r.Context())
	if !protocol.Role(identity.Role).Staff() && p.UserID != identity.UserID {
		writeError(w, http.StatusForbidden, "forbidden", "access denied")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdatePatient(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	id := chi.URLParam(r, "patientID")

	existing, err := s.store.GetPatient(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to get patient")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "not_found", "patient not found")
		return
	}

	var p store.Patient
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	// The account linkage and creation time are immutable.
	p.ID = id
	p.UserID = existing.UserID
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdatePatient(r.Context(), &p); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to update patient")
		return
	}

	s.audit(r, "patient.update", actorID(r), id, nil)
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePatient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "patientID")
	existing, err := s.store.GetPatient(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to get patient")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "not_found", "patient not found")
		return
	}
	if err := s.store.DeletePatient(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to delete patient")
		return
	}

	s.audit(r, "patient.delete", actorID(r), id, nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- Appointment handlers ---

func (s *Server) handleCreateAppointment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var a store.Appointment
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if a.PatientID == "" || a.ScheduledAt.IsZero() {
		writeError(w, http.StatusBadRequest, "bad_request", "patient_id and appointment_date are required")
		return
	}

	patient, err := s.store.GetPatient(r.Context(), a.PatientID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to look up patient")
		return
	}
	if patient == nil {
		writeError(w, http.StatusNotFound, "not_found", "patient not found")
		return
	}

	// Patients book for themselves only.
	identity := identityFrom(r.Context())
	if !protocol.Role(identity.Role).Staff() && patient.UserID != identity.UserID {
		writeError(w, http.StatusForbidden, "forbidden", "access denied")
		return
	}

	if a.Status == "" {
		a.Status = store.AppointmentScheduled
	}
	if !store.ValidAppointmentStatus(a.Status) {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid status")
		return
	}
	if a.Type == "" {
		a.Type = "consultation"
	}
	if a.Priority == "" {
		a.Priority = "normal"
	}
	if a.DurationMinutes <= 0 {
		a.DurationMinutes = 30
	}

	now := time.Now().UTC()
	a.ID = uuid.New().String()
	a.CreatedAt, a.UpdatedAt = now, now
	if err := s.store.CreateAppointment(r.Context(), &a); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to create appointment")
		return
	}

	s.audit(r, "appointment.create", actorID(r), a.ID, map[string]any{"patient_id": a.PatientID})

	date := a.ScheduledAt.Format(time.RFC3339)
	if patient.UserID != identity.UserID {
		s.dispatcher.AppointmentNotice(patient.UserID, map[string]any{
			"appointment_id": a.ID, "appointment_date": date, "status": a.Status,
			"message": "You have a new appointment scheduled",
		})
	}
	if a.StaffID != "" && a.StaffID != identity.UserID {
		s.dispatcher.AppointmentNotice(a.StaffID, map[string]any{
			"appointment_id": a.ID, "appointment_date": date, "status": a.Status,
			"message": "A new appointment was added to your schedule",
		})
	}

	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleListAppointments(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	if !protocol.Role(identity.Role).Staff() {
		patient, err := s.store.GetPatientByUser(r.Context(), identity.UserID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", "failed to look up patient")
			return
		}
		if patient == nil {
			writeJSON(w, http.StatusOK, []store.Appointment{})
			return
		}
		appts, err := s.store.ListAppointmentsByPatient(r.Context(), patient.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", "failed to list appointments")
			return
		}
		if appts == nil {
			appts = []store.Appointment{}
		}
		writeJSON(w, http.StatusOK, appts)
		return
	}

	var appts []store.Appointment
	var err error
	if patientID := r.URL.Query().Get("patient_id"); patientID != "" {
		appts, err = s.store.ListAppointmentsByPatient(r.Context(), patientID)
	} else {
		staffID := r.URL.Query().Get("staff_id")
		if staffID == "" {
			staffID = identity.UserID
		}
		appts, err = s.store.ListAppointmentsByStaff(r.Context(), staffID)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to list appointments")
		return
	}
	if appts == nil {
		appts = []store.Appointment{}
	}
	writeJSON(w, http.StatusOK, appts)
}

func (s *Server) handleUpdateAppointmentStatus(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	id := chi.URLParam(r, "appointmentID")
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if !store.ValidAppointmentStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid status")
		return
	}

	appt, err := s.store.GetAppointment(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to get appointment")
		return
	}
	if appt == nil {
		writeError(w, http.StatusNotFound, "not_found", "appointment not found")
		return
	}

	patient, err := s.store.GetPatient(r.Context(), appt.PatientID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to look up patient")
		return
	}

	// Patients may cancel their own appointments, nothing else.
	identity := identityFrom(r.Context())
	if !protocol.Role(identity.Role).Staff() {
		if patient == nil || patient.UserID != identity.UserID {
			writeError(w, http.StatusForbidden, "forbidden", "access denied")
			return
		}
		if req.Status != store.AppointmentCancelled {
			writeError(w, http.StatusForbidden, "forbidden", "patients may only cancel appointments")
			return
		}
	}

	if err := s.store.UpdateAppointmentStatus(r.Context(), id, req.Status); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to update appointment")
		return
	}

	s.audit(r, "appointment.status", actorID(r), id, map[string]any{"from": appt.Status, "to": req.Status})

	data := map[string]any{
		"appointment_id": id, "status": req.Status,
		"message": "Your appointment has been " + req.Status,
	}
	if patient != nil && patient.UserID != identity.UserID {
		s.dispatcher.AppointmentNotice(patient.UserID, data)
	}
	if appt.StaffID != "" && appt.StaffID != identity.UserID {
		s.dispatcher.AppointmentNotice(appt.StaffID, map[string]any{
			"appointment_id": id, "status": req.Status,
			"message": "An appointment on your schedule is now " + req.Status,
		})
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": req.Status})
}

func (s *Server) handleDeleteAppointment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "appointmentID")
	appt, err := s.store.GetAppointment(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to get appointment")
		return
	}
	if appt == nil {
		writeError(w, http.StatusNotFound, "not_found", "appointment not found")
		return
	}
	if err := s.store.DeleteAppointment(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to delete appointment")
		return
	}

	s.audit(r, "appointment.delete", actorID(r), id, nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- Prescription handlers ---

func (s *Server) handleCreatePrescription(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var p store.Prescription
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if p.PatientID == "" || p.MedicationID == "" || p.Dosage == "" || p.Frequency == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "patient_id, medication_id, dosage, and frequency are required")
		return
	}

	patient, err := s.store.GetPatient(r.Context(), p.PatientID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to look up patient")
		return
	}
	if patient == nil {
		writeError(w, http.StatusNotFound, "not_found", "patient not found")
		return
	}
	med, err := s.store.GetMedication(r.Context(), p.MedicationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to look up medication")
		return
	}
	if med == nil {
		writeError(w, http.StatusNotFound, "not_found", "medication not found")
		return
	}

	if p.Status == "" {
		p.Status = store.PrescriptionActive
	}
	if !store.ValidPrescriptionStatus(p.Status) {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid status")
		return
	}

	now := time.Now().UTC()
	p.ID = uuid.New().String()
	p.PrescribedBy = actorID(r)
	p.RefillsUsed = 0
	p.CreatedAt, p.UpdatedAt = now, now
	if err := s.store.CreatePrescription(r.Context(), &p); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to create prescription")
		return
	}

	s.audit(r, "prescription.create", p.PrescribedBy, p.ID, map[string]any{"patient_id": p.PatientID, "medication_id": p.MedicationID})
	s.dispatcher.PrescriptionNotice(patient.UserID, map[string]any{
		"prescription_id": p.ID, "medication": med.Name, "dosage": p.Dosage,
		"message": "A new prescription has been issued for you",
	})

	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListPrescriptions(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	patientID := r.URL.Query().Get("patient_id")
	if !protocol.Role(identity.Role).Staff() {
		patient, err := s.store.GetPatientByUser(r.Context(), identity.UserID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", "failed to look up patient")
			return
		}
		if patient == nil {
			writeJSON(w, http.StatusOK, []store.Prescription{})
			return
		}
		patientID = patient.ID
	} else if patientID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "patient_id is required")
		return
	}

	prescriptions, err := s.store.ListPrescriptionsByPatient(r.Context(), patientID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to list prescriptions")
		return
	}
	if prescriptions == nil {
		prescriptions = []store.Prescription{}
	}
	writeJSON(w, http.StatusOK, prescriptions)
}

func (s *Server) handleUpdatePrescriptionStatus(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	id := chi.URLParam(r, "prescriptionID")
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if !store.ValidPrescriptionStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid status")
		return
	}

	rx, err := s.store.GetPrescription(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to get prescription")
		return
	}
	if rx == nil {
		writeError(w, http.StatusNotFound, "not_found", "prescription not found")
		return
	}

	if err := s.store.UpdatePrescriptionStatus(r.Context(), id, req.Status); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to update prescription")
		return
	}

	s.audit(r, "prescription.status", actorID(r), id, map[string]any{"from": rx.Status, "to": req.Status})

	if patient, err := s.store.GetPatient(r.Context(), rx.PatientID); err == nil && patient != nil {
		s.dispatcher.PrescriptionNotice(patient.UserID, map[string]any{
			"prescription_id": id, "status": req.Status,
			"message": "Your prescription has been " + req.Status,
		})
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": req.Status})
}

// --- Medication handlers ---

func (s *Server) handleCreateMedication(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var m store.Medication
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if m.Name == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "name is required")
		return
	}
	if m.StockQuantity < 0 || m.ReorderLevel < 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "stock_quantity and reorder_level must not be negative")
		return
	}

	now := time.Now().UTC()
	m.ID = uuid.New().String()
	m.CreatedAt, m.UpdatedAt = now, now
	if err := s.store.CreateMedication(r.Context(), &m); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to create medication")
		return
	}

	s.audit(r, "medication.create", actorID(r), m.ID, nil)
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleListMedications(w http.ResponseWriter, r *http.Request) {
	var medications []store.Medication
	var err error
	if r.URL.Query().Get("low_stock") == "true" {
		threshold := 0
		if v := r.URL.Query().Get("threshold"); v != "" {
			if n, convErr := strconv.Atoi(v); convErr == nil && n > 0 {
				threshold = n
			}
		}
		medications, err = s.store.ListLowStock(r.Context(), threshold)
	} else {
		limit, offset := pageParams(r)
		medications, err = s.store.ListMedications(r.Context(), limit, offset)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to list medications")
		return
	}
	if medications == nil {
		medications = []store.Medication{}
	}
	writeJSON(w, http.StatusOK, medications)
}

func (s *Server) handleGetMedication(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetMedication(r.Context(), chi.URLParam(r, "medicationID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to get medication")
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "not_found", "medication not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleUpdateMedication(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	id := chi.URLParam(r, "medicationID")

	existing, err := s.store.GetMedication(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to get medication")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "not_found", "medication not found")
		return
	}

	var m store.Medication
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if m.Name == "" {
		m.Name = existing.Name
	}
	if m.StockQuantity < 0 || m.ReorderLevel < 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "stock_quantity and reorder_level must not be negative")
		return
	}

	m.ID = id
	m.CreatedAt = existing.CreatedAt
	m.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateMedication(r.Context(), &m); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to update medication")
		return
	}

	s.audit(r, "medication.update", actorID(r), id, map[string]any{"stock_quantity": m.StockQuantity})

	if m.StockQuantity <= m.ReorderLevel {
		s.dispatcher.InventoryAlert(protocol.RolePharmacyStaff, map[string]any{
			"medication_id": id, "name": m.Name,
			"stock_quantity": m.StockQuantity, "reorder_level": m.ReorderLevel,
			"message": fmt.Sprintf("%s is low on stock (%d left)", m.Name, m.StockQuantity),
		})
	}

	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDeleteMedication(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "medicationID")
	existing, err := s.store.GetMedication(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to get medication")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "not_found", "medication not found")
		return
	}
	if err := s.store.DeleteMedication(r.Context(), id); err != nil {
		// Referenced by prescriptions or orders.
		if strings.Contains(err.Error(), "constraint") {
			writeError(w, http.StatusConflict, "conflict", "medication is referenced by prescriptions or orders")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", "failed to delete medication")
		return
	}

	s.audit(r, "medication.delete", actorID(r), id, nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- Order handlers ---

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var o store.Order
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if o.MedicationID == "" || o.Quantity <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "medication_id and a positive quantity are required")
		return
	}

	med, err := s.store.GetMedication(r.Context(), o.MedicationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to look up medication")
		return
	}
	if med == nil {
		writeError(w, http.StatusNotFound, "not_found", "medication not found")
		return
	}

	if o.Urgency == "" {
		o.Urgency = "normal"
	}
	switch o.Urgency {
	case "normal", "urgent", "emergency":
	default:
		writeError(w, http.StatusBadRequest, "bad_request", "urgency must be normal, urgent, or emergency")
		return
	}

	now := time.Now().UTC()
	o.ID = uuid.New().String()
	o.OrderedBy = actorID(r)
	o.Status = store.OrderPending
	o.CreatedAt, o.UpdatedAt = now, now
	if err := s.store.CreateOrder(r.Context(), &o); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to create order")
		return
	}

	s.audit(r, "order.create", o.OrderedBy, o.ID, map[string]any{"medication_id": o.MedicationID, "quantity": o.Quantity, "urgency": o.Urgency})
	s.dispatcher.OrderNotice(protocol.RolePharmacyStaff, map[string]any{
		"order_id": o.ID, "medication": med.Name, "quantity": o.Quantity, "urgency": o.Urgency,
		"message": fmt.Sprintf("New %s order for %s", o.Urgency, med.Name),
	})

	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && !store.ValidOrderStatus(status) {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid status")
		return
	}
	limit, offset := pageParams(r)
	orders, err := s.store.ListOrders(r.Context(), status, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to list orders")
		return
	}
	if orders == nil {
		orders = []store.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	id := chi.URLParam(r, "orderID")
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if !store.ValidOrderStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid status")
		return
	}

	order, err := s.store.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to get order")
		return
	}
	if order == nil {
		writeError(w, http.StatusNotFound, "not_found", "order not found")
		return
	}

	if err := s.store.UpdateOrderStatus(r.Context(), id, req.Status); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to update order")
		return
	}

	s.audit(r, "order.status", actorID(r), id, map[string]any{"from": order.Status, "to": req.Status})
	s.dispatcher.OrderStatusNotice(order.OrderedBy, protocol.RolePharmacyStaff, map[string]any{
		"order_id": id, "status": req.Status,
	})

	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": req.Status})
}

// --- Realtime handlers ---

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.gateway.HandleWS(w, r, chi.URLParam(r, "user_id"))
}

func (s *Server) handleWSStats(w http.ResponseWriter, r *http.Request) {
	users := s.registry.ConnectedIdentities()
	if users == nil {
		users = []realtime.IdentityInfo{}
	}
	writeJSON(w, http.StatusOK, struct {
		realtime.Stats
		ConnectedUsers []realtime.IdentityInfo `json:"connected_users"`
		RateLimiter    limiter.Stats           `json:"rate_limiter"`
	}{s.registry.Snapshot(), users, s.limiter.Snapshot()})
}

func (s *Server) handleSystemNotification(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		Message string   `json:"message"`
		Type    string   `json:"type"`
		Roles   []string `json:"roles"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "message is required")
		return
	}

	roles := make([]protocol.Role, 0, len(req.Roles))
	for _, name := range req.Roles {
		role := protocol.Role(name)
		if !role.Valid() {
			writeError(w, http.StatusBadRequest, "bad_request", "unknown role "+name)
			return
		}
		roles = append(roles, role)
	}

	delivered := s.dispatcher.SystemNotification(req.Message, req.Type, roles)
	s.audit(r, "notification.system", actorID(r), "", map[string]any{"roles": req.Roles, "delivered": delivered})
	writeJSON(w, http.StatusOK, map[string]any{"delivered": delivered})
}

// --- Admin handlers ---

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	entries, err := s.store.ListAudit(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to list audit log")
		return
	}
	if entries == nil {
		entries = []store.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Health handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

func pageParams(r *http.Request) (limit, offset int) {
	limit = 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 200 {
		limit = 200
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// actorID is the authenticated user id, or "" on unauthenticated routes.
func actorID(r *http.Request) string {
	if identity := identityFrom(r.Context()); identity != nil {
		return identity.UserID
	}
	return ""
}

// audit appends an audit entry, logging instead of failing the request when
// the write does not land.
func (s *Server) audit(r *http.Request, action, actor, subject string, detail map[string]any) {
	entry := &store.AuditEntry{
		ID:        uuid.New().String(),
		Action:    action,
		ActorID:   actor,
		Subject:   subject,
		CreatedAt: time.Now().UTC(),
	}
	if detail != nil {
		if b, err := json.Marshal(detail); err == nil {
			entry.Detail = b
		}
	}
	if err := s.store.AppendAudit(r.Context(), entry); err != nil {
		s.logger.Warn("failed to append audit entry", "action", action, "error", err)
	}
}
