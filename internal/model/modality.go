package model

import "strings"

// Modality is the DICOM acquisition/data type code of an instance.
type Modality string

const (
	ModalityCT       Modality = "CT"
	ModalityMR       Modality = "MR"
	ModalityPT       Modality = "PT"
	ModalityPET      Modality = "PET"
	ModalityRTStruct Modality = "RTSTRUCT"
	ModalityRTPlan   Modality = "RTPLAN"
	ModalityRTDose   Modality = "RTDOSE"
)

// ModalityClass groups modalities by how the ingestion pipeline treats them.
type ModalityClass int

const (
	ClassOther ModalityClass = iota
	ClassImage
	ClassStructureSet
	ClassPlan
	ClassDose
)

func (c ModalityClass) String() string {
	switch c {
	case ClassImage:
		return "image"
	case ClassStructureSet:
		return "structure_set"
	case ClassPlan:
		return "plan"
	case ClassDose:
		return "dose"
	default:
		return "other"
	}
}

// NormalizeModality trims and upper-cases a raw tag value.
func NormalizeModality(raw string) Modality {
	return Modality(strings.ToUpper(strings.TrimSpace(raw)))
}

func (m Modality) Class() ModalityClass {
	switch m {
	case ModalityCT, ModalityMR, ModalityPT, ModalityPET:
		return ClassImage
	case ModalityRTStruct:
		return ClassStructureSet
	case ModalityRTPlan:
		return ClassPlan
	case ModalityRTDose:
		return ClassDose
	default:
		return ClassOther
	}
}

func (m Modality) IsImage() bool { return m.Class() == ClassImage }

// Sex is the normalized patient sex.
type Sex string

const (
	SexMale   Sex = "male"
	SexFemale Sex = "female"
	SexOther  Sex = "other"
)

// SexFromDICOM maps the DICOM PatientSex code (M, F, O). Unknown codes map to nil.
func SexFromDICOM(code string) *Sex {
	var s Sex
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "M":
		s = SexMale
	case "F":
		s = SexFemale
	case "O":
		s = SexOther
	default:
		return nil
	}
	return &s
}
