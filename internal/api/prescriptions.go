package api

import (
	"database/sql"
	"errors"
	"net/http"

	"pharmatrack/m/domain"
	"pharmatrack/m/internal/ledger"
	"pharmatrack/m/internal/prescription"
)

type patientRequest struct {
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	DateOfBirth   string `json:"date_of_birth"`
	ContactNumber string `json:"contact_number"`
	Email         string `json:"email"`
	Address       string `json:"address"`
}

func (h *Handler) createPatient(w http.ResponseWriter, r *http.Request) {
	var req patientRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.FirstName == "" || req.LastName == "" {
		respondError(w, http.StatusBadRequest, "first_name and last_name are required")
		return
	}
	patient := domain.Patient{
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		DateOfBirth:   req.DateOfBirth,
		ContactNumber: req.ContactNumber,
		Email:         req.Email,
		Address:       req.Address,
	}
	err := h.db.QueryRowx(
		`INSERT INTO patients (first_name, last_name, date_of_birth, contact_number, email, address)
         VALUES (?, ?, ?, ?, ?, ?) RETURNING id, created_at`,
		patient.FirstName, patient.LastName, patient.DateOfBirth, patient.ContactNumber, patient.Email, patient.Address,
	).Scan(&patient.ID, &patient.CreatedAt)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to create patient")
		return
	}
	respondJSON(w, http.StatusCreated, patient)
}

func (h *Handler) listPatients(w http.ResponseWriter, r *http.Request) {
	var patients []domain.Patient
	err := h.db.Select(&patients,
		`SELECT id, first_name, last_name, date_of_birth, contact_number, email, address, created_at
         FROM patients ORDER BY last_name, first_name`)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load patients")
		return
	}
	if patients == nil {
		patients = []domain.Patient{}
	}
	respondJSON(w, http.StatusOK, patients)
}

type doctorRequest struct {
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Specialization string `json:"specialization"`
	ContactNumber  string `json:"contact_number"`
	MedicalCode    string `json:"medical_code"`
}

func (h *Handler) createDoctor(w http.ResponseWriter, r *http.Request) {
	var req doctorRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.FirstName == "" || req.LastName == "" || req.MedicalCode == "" {
		respondError(w, http.StatusBadRequest, "first_name, last_name and medical_code are required")
		return
	}
	doctor := domain.Doctor{
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Specialization: req.Specialization,
		ContactNumber:  req.ContactNumber,
		MedicalCode:    req.MedicalCode,
	}
	err := h.db.QueryRowx(
		`INSERT INTO doctors (first_name, last_name, specialization, contact_number, medical_code)
         VALUES (?, ?, ?, ?, ?) RETURNING id`,
		doctor.FirstName, doctor.LastName, doctor.Specialization, doctor.ContactNumber, doctor.MedicalCode,
	).Scan(&doctor.ID)
	if err != nil {
		respondError(w, http.StatusConflict, "unable to create doctor (duplicate medical code?)")
		return
	}
	respondJSON(w, http.StatusCreated, doctor)
}

func (h *Handler) listDoctors(w http.ResponseWriter, r *http.Request) {
	var doctors []domain.Doctor
	err := h.db.Select(&doctors,
		`SELECT id, first_name, last_name, specialization, contact_number, medical_code
         FROM doctors ORDER BY last_name, first_name`)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load doctors")
		return
	}
	if doctors == nil {
		doctors = []domain.Doctor{}
	}
	respondJSON(w, http.StatusOK, doctors)
}

type prescriptionRequest struct {
	PatientID int64  `json:"patient_id"`
	DoctorID  int64  `json:"doctor_id"`
	Notes     string `json:"notes"`
}

func (h *Handler) createPrescription(w http.ResponseWriter, r *http.Request) {
	var req prescriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.PatientID == 0 || req.DoctorID == 0 {
		respondError(w, http.StatusBadRequest, "patient_id and doctor_id are required")
		return
	}
	var p domain.Prescription
	err := h.db.QueryRowx(
		`INSERT INTO prescriptions (patient_id, doctor_id, notes) VALUES (?, ?, ?) RETURNING id, created_at`,
		req.PatientID, req.DoctorID, req.Notes,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unable to create prescription (unknown patient or doctor?)")
		return
	}
	p.PatientID = req.PatientID
	p.DoctorID = req.DoctorID
	p.Notes = req.Notes
	respondJSON(w, http.StatusCreated, p)
}

type prescriptionView struct {
	domain.Prescription
	Items []domain.PrescriptionItem `json:"items"`
}

func (h *Handler) getPrescription(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid prescription id")
		return
	}
	var view prescriptionView
	err = h.db.Get(&view.Prescription,
		`SELECT id, patient_id, doctor_id, notes, created_at FROM prescriptions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		respondError(w, http.StatusNotFound, "prescription not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load prescription")
		return
	}
	err = h.db.Select(&view.Items,
		`SELECT id, prescription_id, medicine_id, dosage, duration, requested_quantity, dispensed_quantity
         FROM prescription_items WHERE prescription_id = ? ORDER BY id`, id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load prescription items")
		return
	}
	if view.Items == nil {
		view.Items = []domain.PrescriptionItem{}
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *Handler) deletePrescription(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid prescription id")
		return
	}
	if err := h.prescriptions.Delete(r.Context(), id, actor(r)); err != nil {
		h.respondPrescriptionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type prescriptionItemRequest struct {
	MedicineID int64  `json:"medicine_id"`
	Quantity   int64  `json:"quantity"`
	Dosage     string `json:"dosage"`
	Duration   string `json:"duration"`
}

func (h *Handler) addPrescriptionItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid prescription id")
		return
	}
	var req prescriptionItemRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.MedicineID == 0 {
		respondError(w, http.StatusBadRequest, "medicine_id is required")
		return
	}

	res, err := h.prescriptions.AddItem(r.Context(), id, req.MedicineID, req.Quantity, req.Dosage, req.Duration, actor(r))
	if err != nil {
		h.respondPrescriptionError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

func (h *Handler) updatePrescriptionItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid prescription id")
		return
	}
	itemID, err := pathID(r, "itemID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	var req prescriptionItemRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.prescriptions.UpdateItem(r.Context(), id, itemID, req.Quantity, req.Dosage, req.Duration, actor(r))
	if err != nil {
		h.respondPrescriptionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handler) removePrescriptionItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid prescription id")
		return
	}
	itemID, err := pathID(r, "itemID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	if err := h.prescriptions.RemoveItem(r.Context(), id, itemID, actor(r)); err != nil {
		h.respondPrescriptionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (h *Handler) respondPrescriptionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, prescription.ErrPrescriptionNotFound),
		errors.Is(err, prescription.ErrItemNotFound),
		errors.Is(err, ledger.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, prescription.ErrOutOfStock),
		errors.Is(err, ledger.ErrInvalidQuantity):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrContentionExceeded):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.log.Error().Err(err).Msg("prescription operation failed")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
