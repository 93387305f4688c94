package seed

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

// LoadMedicines ingests a CSV catalog into the medicines table, ignoring
// duplicates. Expected columns: name, brand, category, dosage, price,
// quantity, reorder_level, batch_number, supplier.
func LoadMedicines(db *sqlx.DB, csvPath string, log zerolog.Logger) {
	file, err := os.Open(csvPath)
	if err != nil {
		log.Warn().Err(err).Str("path", csvPath).Msg("unable to open medicine catalog")
		return
	}
	defer file.Close()

	reader := csv.NewReader(file)
	// Skip header
	if _, err := reader.Read(); err != nil {
		log.Warn().Err(err).Msg("unable to read medicine header")
		return
	}

	tx, err := db.Beginx()
	if err != nil {
		log.Warn().Err(err).Msg("unable to start medicine seed transaction")
		return
	}
	stmt, err := tx.Preparex(
		`INSERT OR IGNORE INTO medicines (name, brand, category, dosage, price, quantity_in_stock, reorder_level, batch_number, supplier)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		log.Warn().Err(err).Msg("unable to prepare medicine insert")
		_ = tx.Rollback()
		return
	}
	defer stmt.Close()

	rows := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warn().Err(err).Msg("unable to read medicine row")
			continue
		}
		if len(record) < 9 {
			continue
		}
		name := strings.TrimSpace(record[0])
		brand := strings.TrimSpace(record[1])
		category := strings.TrimSpace(record[2])
		dosage := strings.TrimSpace(record[3])
		price := strings.TrimSpace(record[4])
		batch := strings.TrimSpace(record[7])
		supplier := strings.TrimSpace(record[8])

		if name == "" || batch == "" {
			continue
		}
		quantity, err := strconv.ParseInt(strings.TrimSpace(record[5]), 10, 64)
		if err != nil || quantity < 0 {
			continue
		}
		reorder, err := strconv.ParseInt(strings.TrimSpace(record[6]), 10, 64)
		if err != nil {
			reorder = 0
		}

		if _, err := stmt.Exec(name, brand, category, dosage, price, quantity, reorder, batch, supplier); err != nil {
			log.Warn().Err(err).Str("medicine", name).Msg("unable to insert medicine")
		} else {
			rows++
		}
	}

	if err := tx.Commit(); err != nil {
		log.Warn().Err(err).Msg("unable to commit medicine seed")
		return
	}
	log.Info().Int("rows", rows).Msg("seeded medicine catalog")
}
