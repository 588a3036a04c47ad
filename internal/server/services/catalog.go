package services

import (
	"fmt"

	"github.com/orgware/owconnect/internal/server/cache"
	"github.com/orgware/owconnect/internal/server/entity"
	"github.com/orgware/owconnect/internal/server/models"
	"github.com/orgware/owconnect/internal/server/properties"
)

// Input shapes. Optional dates are pointers: absent and null both mean "no value".

type Company struct {
	Name               string  `json:"name" validate:"required"`
	ShortName          string  `json:"shortName"`
	Country            string  `json:"country"`
	TaxNumber          string  `json:"taxNumber"`
	RegistrationNumber string  `json:"registrationNumber"`
	BankAccountNumber  string  `json:"bankAccountNumber"`
	IBAN               string  `json:"IBAN"`
	SWIFT              string  `json:"SWIFT"`
	LogoFile           *string `json:"logoFile"`
	LawType            string  `json:"lawType"`
	ValidFrom          string  `json:"validFrom" validate:"required,isodate"`
	ValidTo            *string `json:"validTo" validate:"omitempty,isodate"`
}

type Employee struct {
	PrefixName           string  `json:"prefixName"`
	LastName             string  `json:"lastName" validate:"required"`
	MiddleName           string  `json:"middleName"`
	FirstName            string  `json:"firstName" validate:"required"`
	Forename             string  `json:"forename"`
	DateOfBirth          string  `json:"dateOfBirth" validate:"required,isodate"`
	PlaceOfBirth         string  `json:"placeOfBirth"`
	CountryOfBirth       string  `json:"countryOfBirth"`
	MothersName          string  `json:"mothersName"`
	Gender               string  `json:"gender" validate:"omitempty,len=3,numeric"`
	MaritalStatus        string  `json:"maritalStatus" validate:"omitempty,len=3,numeric"`
	TaxNumber            string  `json:"taxNumber"`
	SocialSecurityNumber string  `json:"socialSecurityNumber"`
	IdentityCardNumber   string  `json:"identityCardNumber"`
	Nationality          string  `json:"nationality"`
	PreferredLanguage    string  `json:"preferredLanguage"`
	ValidFrom            string  `json:"validFrom" validate:"required,isodate"`
	ValidTo              *string `json:"validTo" validate:"omitempty,isodate"`
}

type Contract struct {
	Employee                    string  `json:"employee" validate:"required,len=10,numeric"`
	Company                     string  `json:"company" validate:"required,len=3,numeric"`
	OrgUnit                     string  `json:"orgUnit" validate:"omitempty,len=4,numeric"`
	PayOffice                   string  `json:"payOffice" validate:"omitempty,len=4,numeric"`
	WorkingPlace                string  `json:"workingPlace" validate:"omitempty,len=4,numeric"`
	JobClass                    string  `json:"jobClass" validate:"omitempty,len=4,numeric"`
	JobClassGroup               string  `json:"jobClassGroup" validate:"omitempty,len=4,numeric"`
	TypeOfContract              string  `json:"typeOfContract" validate:"omitempty,len=1,numeric"`
	ShiftType                   string  `json:"shiftType" validate:"omitempty,len=4,numeric"`
	MaxOverTimeInHour           string  `json:"maxOverTimeInHour" validate:"omitempty,numeric"`
	EmploymentType              string  `json:"employmentType" validate:"omitempty,len=4,numeric"`
	StartOfContract             string  `json:"startOfContract" validate:"required,isodate"`
	EndOfContract               *string `json:"endOfContract" validate:"omitempty,isodate"`
	ContractTerminationTypeCode string  `json:"contractTerminationTypeCode" validate:"omitempty,len=4,numeric"`
}

type OrgUnit struct {
	Company   string  `json:"company" validate:"required,len=3,numeric"`
	Parent    string  `json:"parent" validate:"omitempty,len=4,numeric"`
	Name      string  `json:"name" validate:"required"`
	ValidFrom string  `json:"validFrom" validate:"required,isodate"`
	ValidTo   *string `json:"validTo" validate:"omitempty,isodate"`
}

// CompanyUnit is the shape of pay offices and job classes.
type CompanyUnit struct {
	Company   string  `json:"company" validate:"required,len=3,numeric"`
	Name      string  `json:"name" validate:"required"`
	ValidFrom string  `json:"validFrom" validate:"required,isodate"`
	ValidTo   *string `json:"validTo" validate:"omitempty,isodate"`
}

type Role struct {
	Contract   string  `json:"contract" validate:"required,len=5,numeric"`
	Role       string  `json:"role" validate:"required"`
	Resource   string  `json:"resource"`
	ResourceID string  `json:"resourceId"`
	ValidFrom  string  `json:"validFrom" validate:"required,isodate"`
	ValidTo    *string `json:"validTo" validate:"omitempty,isodate"`
}

// Lookup is the shape of the small code tables (genders, contract types...).
type Lookup struct {
	Name      string  `json:"name" validate:"required"`
	ValidFrom *string `json:"validFrom" validate:"omitempty,isodate"`
	ValidTo   *string `json:"validTo" validate:"omitempty,isodate"`
}

func field(name string) func(models.Document) string {
	return func(d models.Document) string { return d.String(name) }
}

func scoped(names ...string) func(models.Document) string {
	return func(d models.Document) string {
		parts := make([]string, len(names))
		for i, n := range names {
			parts[i] = d.String(n)
		}
		return cache.Key(parts...)
	}
}

func seedWithCodes(length int, names ...string) []entity.SeedRecord {
	rows := make([]entity.SeedRecord, 0, len(names))
	for i, n := range names {
		rows = append(rows, entity.SeedRecord{
			Code: fmt.Sprintf("%0*d", length, i+1),
			Data: models.Document{"name": n, "validFrom": seedDate},
		})
	}
	return rows
}

const seedDate = "2020-01-01"

func lookup(collection, singular, typ, tag string, codeLength int, seed []entity.SeedRecord) Definition {
	return Definition{
		Collection:   collection,
		Singular:     singular,
		Type:         typ,
		Tag:          tag,
		CodeLength:   codeLength,
		Revisions:    true,
		Input:        func() any { return &Lookup{} },
		NaturalKey:   field("name"),
		SearchFields: []string{"name"},
		Seed:         seed,
	}
}

// Catalog lists every entity collection served through the generic service.
func Catalog() []Definition {
	return []Definition{
		{
			Collection:   "companies",
			Singular:     "company",
			Type:         "Company",
			Tag:          "COMPANY",
			CodeLength:   3,
			Revisions:    true,
			Input:        func() any { return &Company{} },
			NaturalKey:   field("taxNumber"),
			SearchFields: []string{"name", "shortName", "taxNumber"},
			Seed: []entity.SeedRecord{
				{Code: "001", Data: models.Document{"name": "Orgware Kft.", "validFrom": seedDate}},
				{Code: "002", Data: models.Document{"name": "Állami Nyomda", "validFrom": seedDate}},
			},
		},
		{
			Collection:   "employees",
			Singular:     "employee",
			Type:         "Employee",
			Tag:          "EMPLOYEE",
			CodeLength:   10,
			Revisions:    true,
			Input:        func() any { return &Employee{} },
			NaturalKey:   field("socialSecurityNumber"),
			SearchFields: []string{"lastName", "firstName", "taxNumber"},
			Seed: []entity.SeedRecord{
				{Code: "0000000000", Data: models.Document{"lastName": "System", "firstName": "Account", "dateOfBirth": seedDate, "validFrom": seedDate}},
				{Code: "0000000017", Data: models.Document{"lastName": "Példa", "firstName": "Mária", "dateOfBirth": "1980-05-17", "validFrom": seedDate}},
			},
		},
		{
			Collection:   "contracts",
			Singular:     "contract",
			Type:         "Contract",
			Tag:          "CONTRACT",
			CodeLength:   5,
			Revisions:    true,
			Input:        func() any { return &Contract{} },
			SearchFields: []string{"employee", "company"},
		},
		{
			Collection:   "orgUnits",
			Singular:     "orgUnit",
			Type:         "OrgUnit",
			Tag:          "ORG_UNIT",
			CodeLength:   4,
			Revisions:    true,
			Input:        func() any { return &OrgUnit{} },
			NaturalKey:   scoped("company", "name"),
			SearchFields: []string{"name"},
		},
		{
			Collection:   "payOffices",
			Singular:     "payOffice",
			Type:         "PayOffice",
			Tag:          "PAY_OFFICE",
			CodeLength:   4,
			Revisions:    true,
			Input:        func() any { return &CompanyUnit{} },
			NaturalKey:   scoped("company", "name"),
			SearchFields: []string{"name"},
		},
		{
			Collection:   "jobClasses",
			Singular:     "jobClass",
			Type:         "JobClass",
			Tag:          "JOB_CLASS",
			CodeLength:   4,
			Revisions:    true,
			Input:        func() any { return &CompanyUnit{} },
			NaturalKey:   scoped("company", "name"),
			SearchFields: []string{"name"},
		},
		{
			Collection:   "roles",
			Singular:     "role",
			Type:         "Role",
			Tag:          "ROLE",
			Revisions:    true,
			Input:        func() any { return &Role{} },
			NaturalKey:   scoped("contract", "role", "resource", "resourceId"),
			SearchFields: []string{"role"},
		},
		{
			Collection:   properties.Collection,
			Singular:     "property",
			Type:         "Property",
			Tag:          "PROPERTY",
			Revisions:    true,
			Input:        func() any { return &properties.Property{} },
			NaturalKey:   properties.NaturalKey,
			SearchFields: []string{"key", "resource"},
		},
		lookup("genders", "gender", "Gender", "GENDER", 3, seedWithCodes(3, "férfi", "nő", "egyéb")),
		lookup("maritalStatuses", "maritalStatus", "MaritalStatus", "MARITAL_STATUS", 3, seedWithCodes(3, "házas", "elvált", "özvegy")),
		lookup("contractTypes", "contractType", "ContractType", "CONTRACT_TYPE", 4, seedWithCodes(4, "Főállású munkaviszony", "Részmunkaidő")),
		lookup("contractTerminationTypes", "contractTerminationType", "ContractTerminationType", "CONTRACT_TERMINATION_TYPE", 4, nil),
		lookup("employmentTypes", "employmentType", "EmploymentType", "EMPLOYMENT_TYPE", 4, nil),
		lookup("jobClassGroups", "jobClassGroup", "JobClassGroup", "JOB_CLASS_GROUP", 4, nil),
		lookup("shiftTypes", "shiftType", "ShiftType", "SHIFT_TYPE", 4, nil),
		lookup("sites", "site", "Site", "SITE", 4, nil),
		lookup("workingPlaces", "workingPlace", "WorkingPlace", "WORKING_PLACE", 4, nil),
		lookup("products", "product", "Product", "PRODUCT", 4, nil),
	}
}
