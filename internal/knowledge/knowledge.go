// Package knowledge defines the enterprise knowledge base: a fixed corpus of
// documents about the Pagani Zonda R, each carrying a role access list.
//
// The corpus is compiled into the binary. Document order is stable and
// meaningful: the retrieval index uses it as the tie-break when similarity
// scores are equal.
package knowledge

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"
)

// Document is one entry of the knowledge base.
type Document struct {
	// ID is a stable identifier used as the index key.
	ID string
	// Content is the document text submitted for embedding and generation.
	Content string
	// Source is the display name cited in answers.
	Source string
	// RoleAccess lists the roles allowed to retrieve this document.
	RoleAccess []string
}

// AccessibleBy reports whether the given role may retrieve the document.
func (d Document) AccessibleBy(role string) bool {
	return slices.Contains(d.RoleAccess, role)
}

// Fingerprint returns a hex SHA-256 digest over the corpus in order, covering
// IDs, sources, role lists, and content. Any change to the corpus changes the
// fingerprint, which invalidates persisted index snapshots.
func Fingerprint(docs []Document) string {
	h := sha256.New()
	for _, d := range docs {
		h.Write([]byte(d.ID))
		h.Write([]byte{0})
		h.Write([]byte(d.Source))
		h.Write([]byte{0})
		h.Write([]byte(strings.Join(d.RoleAccess, ",")))
		h.Write([]byte{0})
		h.Write([]byte(d.Content))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Corpus returns the knowledge base documents in their canonical order.
func Corpus() []Document {
	allRoles := []string{"admin", "engineer", "viewer"}
	restricted := []string{"admin", "engineer"}
	adminOnly := []string{"admin"}

	return []Document{
		{
			ID:         "zonda:heritage",
			Source:     "Pagani Heritage Archives",
			RoleAccess: allRoles,
			Content:    "The Pagani Zonda R is the ultimate track-focused evolution of the Zonda lineage. It was unveiled in 2007 as a pure racing machine not homologated for road use. The Zonda R represents the pinnacle of Pagani's engineering philosophy: art and science in perfect harmony. It was designed by Horacio Pagani and his team at Pagani Automobili in Modena, Italy.",
		},
		{
			ID:         "zonda:engine",
			Source:     "Engine Technical Specification Sheet",
			RoleAccess: allRoles,
			Content:    "The Pagani Zonda R is powered by a naturally aspirated Mercedes-Benz AMG M120 6.0-liter V12 engine, producing 750 horsepower at 7,500 RPM and 710 Nm of torque at 5,700 RPM. The engine is mated to a sequential 6-speed gearbox developed in collaboration with Xtrac. The V12 delivers a linear power curve with instantaneous throttle response, characteristic of naturally aspirated high-performance engines.",
		},
		{
			ID:         "zonda:chassis",
			Source:     "Chassis Engineering Report",
			RoleAccess: allRoles,
			Content:    "The Zonda R features a carbon-titanium monocoque chassis, a material technology pioneered by Pagani. The monocoque weighs just 68 kg and provides exceptional torsional rigidity of 32,000 Nm/degree. The entire body is constructed from advanced carbon fiber composites, including the floor, roof, and aerodynamic elements. Total dry weight is 1,070 kg, giving a power-to-weight ratio of 701 hp per tonne.",
		},
		{
			ID:         "zonda:aerodynamics",
			Source:     "Aerodynamics R&D Report",
			RoleAccess: restricted,
			Content:    "Aerodynamics: The Zonda R generates over 1,500 kg of downforce at 300 km/h through its advanced aerodynamic package. The front splitter, rear diffuser, and adjustable rear wing work together to create ground-effect downforce. The underbody is fully flat with Venturi tunnels. The drag coefficient is optimized for circuit use rather than top speed. Wind tunnel testing was conducted at Dallara's facility in Varano de' Melegari.",
		},
		{
			ID:         "zonda:performance",
			Source:     "Performance Test Results",
			RoleAccess: allRoles,
			Content:    "Performance data: The Pagani Zonda R accelerates from 0-100 km/h in 2.7 seconds, 0-200 km/h in 6.2 seconds, and has a top speed exceeding 350 km/h. It set a lap record at the Nürburgring Nordschleife with a time of 6:47.50 in 2010, making it one of the fastest cars to ever lap the circuit. Braking from 100 km/h to standstill takes just 29 meters.",
		},
		{
			ID:         "zonda:brakes",
			Source:     "Brake System Technical Manual",
			RoleAccess: restricted,
			Content:    "The braking system features Brembo carbon-ceramic disc brakes with 380 mm front and 355 mm rear rotors. The calipers are 6-piston units at the front and 4-piston at the rear, painted in the signature Pagani blue. The brake-by-wire system offers adjustable brake bias. The system withstands temperatures up to 1,000°C during sustained track use without fade.",
		},
		{
			ID:         "zonda:suspension",
			Source:     "Suspension Engineering Documentation",
			RoleAccess: restricted,
			Content:    "The suspension system uses a double-wishbone configuration on all four corners with pushrod-activated Öhlins TTX 4-way adjustable dampers. Anti-roll bars are adjustable front and rear. Ride height, camber, and toe are fully adjustable for circuit optimization. The suspension geometry is derived from Pagani's motorsport program.",
		},
		{
			ID:         "zonda:production",
			Source:     "Production Registry",
			RoleAccess: allRoles,
			Content:    "Production and exclusivity: Only 15 units of the Pagani Zonda R were ever produced. Each car is hand-built at the Pagani Atelier in San Cesario sul Panaro, near Modena, Italy. Production began in 2007 and all units were allocated before public announcement. Current estimated market value exceeds €6 million. Original MSRP was approximately €1.5 million.",
		},
		{
			ID:         "zonda:interior",
			Source:     "Interior Design Specifications",
			RoleAccess: allRoles,
			Content:    "The Zonda R's interior features a minimalist, race-focused cockpit with exposed carbon fiber throughout. The dashboard houses a digital telemetry display, gear position indicator, and essential gauges only. The steering wheel is a removable unit with integrated shift paddles. Seats are fixed-back carbon fiber racing shells with 6-point harnesses. Interior weight was stripped to an absolute minimum — no air conditioning, no infotainment, no sound insulation.",
		},
		{
			ID:         "zonda:financial",
			Source:     "Financial & Ownership Report",
			RoleAccess: adminOnly,
			Content:    "Financial overview: The Pagani Zonda R retailed at €1.5 million excluding local taxes and duties. Maintenance costs for the engine service alone exceed €25,000. A complete carbon-ceramic brake set replacement costs approximately €35,000. Annual insurance premiums range from €40,000 to €80,000 depending on jurisdiction. The Zonda R has appreciated in value by approximately 300% since its original sale, with recent auction prices exceeding €6 million.",
		},
		{
			ID:         "zonda:tires",
			Source:     "Tire & Wheel Technical Sheet",
			RoleAccess: restricted,
			Content:    "The Zonda R uses Pirelli P Zero slick tires specifically developed for this car: 265/645 R19 front and 335/705 R20 rear. Magnesium APP forged wheels save 12 kg over aluminum equivalents. Tire operational temperature range is 80-110°C for optimal grip. The car features a central locking nut wheel design derived from Formula 1 technology.",
		},
		{
			ID:         "zonda:exhaust",
			Source:     "Exhaust System Engineering Report",
			RoleAccess: allRoles,
			Content:    "The exhaust system is constructed entirely from Inconel 625 superalloy, the same material used in Formula 1 and aerospace applications. The quad-exit exhaust produces the Zonda R's iconic sound signature, measured at 120 dB at full throttle. The exhaust system weighs only 5.8 kg total. Headers are equal-length for optimal exhaust gas scavenging and power delivery.",
		},
	}
}
