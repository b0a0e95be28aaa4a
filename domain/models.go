package domain

import "time"

// EntityKind identifica el tipo de entidad replicada. Forma parte de la clave
// del lock distribuido y del guard de creación cíclica.
type EntityKind string

const (
	KindDeal    EntityKind = "deal"
	KindCompany EntityKind = "company"
	KindContact EntityKind = "contact"
	KindLead    EntityKind = "lead"
	KindInvoice EntityKind = "invoice"
	KindUser    EntityKind = "user"
)

// Entity restricción común de toda entidad replicada desde el CRM.
type Entity interface {
	EntityID() int64
	EntityKind() EntityKind
}

// Company empresa vinculada a deals, contactos y facturas.
type Company struct {
	ID           int64
	Title        string
	Phone        string
	Email        string
	MainActivity string
	City         string
	// Contracts texto libre con los contratos firmados por la empresa,
	// parseado por el parser de contratos.
	Contracts string
	// DefaultForManager responsable para el que esta empresa actúa como
	// empresa por defecto (0 si no aplica).
	DefaultForManager int64
	CreatedAt         time.Time
	Deleted           bool
}

func (c *Company) EntityID() int64        { return c.ID }
func (c *Company) EntityKind() EntityKind { return KindCompany }

// HasChannel indica si la empresa tiene al menos un canal de comunicación.
func (c *Company) HasChannel() bool { return c.Phone != "" || c.Email != "" }

// Contact persona de contacto.
type Contact struct {
	ID        int64
	Name      string
	Phone     string
	Email     string
	CompanyID int64
	CreatedAt time.Time
	Deleted   bool
}

func (c *Contact) EntityID() int64        { return c.ID }
func (c *Contact) EntityKind() EntityKind { return KindContact }

// HasChannel indica si el contacto tiene al menos un canal de comunicación.
func (c *Contact) HasChannel() bool { return c.Phone != "" || c.Email != "" }

// Lead lead de origen del deal; sus atributos alimentan al clasificador.
type Lead struct {
	ID             int64
	Title          string
	SourceID       string // origen declarado en el CRM ("WEB" = formulario web)
	CallTrackingID string // identificador de call-tracking, si existe
	OriginID       string // identificador de origen (correo entrante)
	CreatedByID    int64
	Comments       string // texto libre, puede contener marcadores UTM
	CreatedAt      time.Time
	Deleted        bool
}

func (l *Lead) EntityID() int64        { return l.ID }
func (l *Lead) EntityKind() EntityKind { return KindLead }

// Invoice factura asociada a un deal.
type Invoice struct {
	ID        int64
	DealID    int64
	CompanyID int64
	StageID   string
	// Exported indica que la factura ya fue entregada al consumidor
	// downstream; un fallo del deal exige emitir la señal de retracción.
	Exported  bool
	CreatedAt time.Time
	Deleted   bool
}

func (i *Invoice) EntityID() int64        { return i.ID }
func (i *Invoice) EntityKind() EntityKind { return KindInvoice }

// User usuario del CRM (responsable de deals).
type User struct {
	ID           int64
	Name         string
	Active       bool
	SupervisorID int64
	Deleted      bool
}

func (u *User) EntityID() int64        { return u.ID }
func (u *User) EntityKind() EntityKind { return KindUser }

// ProductRow línea de producto de un deal.
type ProductRow struct {
	ID       int64
	DealID   int64
	Name     string
	Price    string
	Quantity float64
}
