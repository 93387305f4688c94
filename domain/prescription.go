package domain

type Patient struct {
	ID            int64  `db:"id" json:"id"`
	FirstName     string `db:"first_name" json:"first_name"`
	LastName      string `db:"last_name" json:"last_name"`
	DateOfBirth   string `db:"date_of_birth" json:"date_of_birth"`
	ContactNumber string `db:"contact_number" json:"contact_number"`
	Email         string `db:"email" json:"email"`
	Address       string `db:"address" json:"address"`
	CreatedAt     string `db:"created_at" json:"created_at"`
}

type Doctor struct {
	ID             int64  `db:"id" json:"id"`
	FirstName      string `db:"first_name" json:"first_name"`
	LastName       string `db:"last_name" json:"last_name"`
	Specialization string `db:"specialization" json:"specialization"`
	ContactNumber  string `db:"contact_number" json:"contact_number"`
	MedicalCode    string `db:"medical_code" json:"medical_code"`
}

type Prescription struct {
	ID        int64  `db:"id" json:"id"`
	PatientID int64  `db:"patient_id" json:"patient_id"`
	DoctorID  int64  `db:"doctor_id" json:"doctor_id"`
	Notes     string `db:"notes" json:"notes"`
	CreatedAt string `db:"created_at" json:"created_at"`
}

// PrescriptionItem ties one medicine to a prescription. RequestedQuantity is
// what the pharmacist asked for; DispensedQuantity is what the ledger
// actually applied, and is the only quantity that ever moved stock. At most
// one item exists per (prescription, medicine) pair; repeat dispensing
// merges into the existing item.
type PrescriptionItem struct {
	ID                int64  `db:"id" json:"id"`
	PrescriptionID    int64  `db:"prescription_id" json:"prescription_id"`
	MedicineID        int64  `db:"medicine_id" json:"medicine_id"`
	Dosage            string `db:"dosage" json:"dosage"`
	Duration          string `db:"duration" json:"duration"`
	RequestedQuantity int64  `db:"requested_quantity" json:"requested_quantity"`
	DispensedQuantity int64  `db:"dispensed_quantity" json:"dispensed_quantity"`
}
